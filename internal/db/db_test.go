package db

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cambridge/internal/testutil"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := setupTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var foreignKeys int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)
}

func TestMigrations(t *testing.T) {
	db := setupTestDB(t)
	migrations, err := getMigrationsFS()
	require.NoError(t, err)

	version, dirty, err := db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Running again is a no-op.
	require.NoError(t, db.MigrateUp(migrations))

	require.NoError(t, db.MigrateDown(migrations))
	version, _, err = db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = 'session_intervals'").Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count, "session_intervals should be dropped")

	require.NoError(t, db.MigrateUp(migrations))
}

func TestReopenExistingDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	s := &Session{ScreenWidth: 414, ScreenHeight: 896, MaxPacket: 9216}
	require.NoError(t, db.StartSession(s))
	require.NoError(t, db.Close())

	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()
	sessions, err := db.Sessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, s.ID, sessions[0].ID)
}

func TestSessionLifecycle(t *testing.T) {
	db := setupTestDB(t)

	s := &Session{
		Source:       "camera 0",
		Destination:  "127.0.0.1:5005",
		Device:       "11",
		ScreenWidth:  414,
		ScreenHeight: 896,
		MaxPacket:    65507,
	}
	require.NoError(t, db.StartSession(s))
	_, err := uuid.Parse(s.ID)
	assert.NoError(t, err, "session id should be a UUID")
	assert.False(t, s.StartedAt.IsZero())

	start := time.UnixMilli(time.Now().UnixMilli())
	intervals := []Interval{
		{Start: start, Duration: time.Minute, Frames: 1800, FrameBytes: 90_000_000, Datagrams: 3600, DatagramBytes: 90_001_800, MeanFrameBytes: 50_000, StdDevFrameBytes: 1200.5},
		{Start: start.Add(time.Minute), Duration: time.Minute, Frames: 10, SendErrors: 3, CaptureErrors: 1},
	}
	for _, iv := range intervals {
		require.NoError(t, db.RecordInterval(s.ID, iv))
	}

	got, err := db.Intervals(s.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for i := range intervals {
		assert.True(t, intervals[i].Start.Equal(got[i].Start), "interval %d start", i)
		got[i].Start = intervals[i].Start
		assert.Equal(t, intervals[i], got[i])
	}

	totals := SessionTotals{Frames: 1810, FrameBytes: 90_000_500, Datagrams: 3620, SendErrors: 3, CaptureErrors: 1}
	require.NoError(t, db.EndSession(s.ID, totals))

	sessions, err := db.Sessions(0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, totals, sessions[0].Totals)
	assert.Equal(t, "127.0.0.1:5005", sessions[0].Destination)
	assert.Equal(t, 65507, sessions[0].MaxPacket)
	require.NotNil(t, sessions[0].EndedAt)
	assert.False(t, sessions[0].EndedAt.Before(sessions[0].StartedAt))

	assert.True(t, errors.Is(db.EndSession("missing", totals), ErrSessionNotFound))
}

func TestSessions_NewestFirstAndLimit(t *testing.T) {
	db := setupTestDB(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		s := &Session{ID: string(rune('a' + i)), StartedAt: base.Add(time.Duration(i) * time.Minute), ScreenWidth: 1, ScreenHeight: 1, MaxPacket: 1}
		require.NoError(t, db.StartSession(s))
	}
	sessions, err := db.Sessions(2)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "c", sessions[0].ID)
	assert.Equal(t, "b", sessions[1].ID)
	assert.Nil(t, sessions[0].EndedAt)
}

func TestRecordInterval_UnknownSession(t *testing.T) {
	db := setupTestDB(t)
	err := db.RecordInterval("nope", Interval{Start: time.Now()})
	assert.Error(t, err, "foreign key should reject unknown sessions")
}

func TestAttachAdminRoutes_Backup(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.StartSession(&Session{ScreenWidth: 1, ScreenHeight: 1, MaxPacket: 1}))

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	rec := testutil.Serve(mux, testutil.LocalRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, len(data) > 16 && string(data[:15]) == "SQLite format 3", "backup should be a SQLite file")
}

func TestAttachAdminRoutes_TailSQL(t *testing.T) {
	db := setupTestDB(t)
	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	rec := testutil.Serve(mux, testutil.LocalRequest(http.MethodGet, "/debug/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tailsql")
	assert.Contains(t, rec.Body.String(), "backup")
}
