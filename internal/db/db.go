// Package db records streaming sessions in SQLite.
package db

import (
	"compress/gzip"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/cambridge/internal/httputil"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

type DB struct {
	*sql.DB
	path string
}

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(1)",
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return path + "?" + q.Encode()
}

// NewDB opens the database at path, applies the connection pragmas and runs
// the embedded migrations.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{DB: sqlDB, path: path}
	migrations, err := getMigrationsFS()
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.MigrateUp(migrations); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Session is one run of the streamer.
type Session struct {
	ID           string
	StartedAt    time.Time
	EndedAt      *time.Time
	Source       string
	Destination  string
	Device       string
	ScreenWidth  int
	ScreenHeight int
	MaxPacket    int
	Totals       SessionTotals
}

// SessionTotals are the counters stored when a session ends.
type SessionTotals struct {
	Frames        int64
	FrameBytes    int64
	Datagrams     int64
	SendErrors    int64
	CaptureErrors int64
}

// Interval is one statistics report within a session.
type Interval struct {
	Start            time.Time
	Duration         time.Duration
	Frames           int64
	FrameBytes       int64
	Datagrams        int64
	DatagramBytes    int64
	SendErrors       int64
	CaptureErrors    int64
	MeanFrameBytes   float64
	StdDevFrameBytes float64
}

// StartSession inserts s. An empty ID is replaced by a new UUID and a zero
// StartedAt by the current time; both are written back to s.
func (db *DB) StartSession(s *Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	_, err := db.Exec(
		`INSERT INTO sessions (
			session_id, started_unix_ms, source, destination, device,
			screen_width, screen_height, max_packet
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.StartedAt.UnixMilli(), s.Source, s.Destination, s.Device,
		s.ScreenWidth, s.ScreenHeight, s.MaxPacket,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// RecordInterval appends one statistics interval to a session.
func (db *DB) RecordInterval(sessionID string, iv Interval) error {
	_, err := db.Exec(
		`INSERT INTO session_intervals (
			session_id, start_unix_ms, duration_ms, frames, frame_bytes,
			datagrams, datagram_bytes, send_errors, capture_errors,
			mean_frame_bytes, stddev_frame_bytes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, iv.Start.UnixMilli(), iv.Duration.Milliseconds(), iv.Frames, iv.FrameBytes,
		iv.Datagrams, iv.DatagramBytes, iv.SendErrors, iv.CaptureErrors,
		iv.MeanFrameBytes, iv.StdDevFrameBytes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert interval: %w", err)
	}
	return nil
}

// EndSession stores the end time and totals of a session.
func (db *DB) EndSession(sessionID string, totals SessionTotals) error {
	res, err := db.Exec(
		`UPDATE sessions SET
			ended_unix_ms = ?, frames = ?, frame_bytes = ?, datagrams = ?,
			send_errors = ?, capture_errors = ?
		WHERE session_id = ?`,
		time.Now().UnixMilli(), totals.Frames, totals.FrameBytes, totals.Datagrams,
		totals.SendErrors, totals.CaptureErrors, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT session_id, started_unix_ms, ended_unix_ms, source, destination, device,
			screen_width, screen_height, max_packet,
			frames, frame_bytes, datagrams, send_errors, capture_errors
		FROM sessions ORDER BY started_unix_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var started int64
		var ended sql.NullInt64
		if err := rows.Scan(
			&s.ID, &started, &ended, &s.Source, &s.Destination, &s.Device,
			&s.ScreenWidth, &s.ScreenHeight, &s.MaxPacket,
			&s.Totals.Frames, &s.Totals.FrameBytes, &s.Totals.Datagrams,
			&s.Totals.SendErrors, &s.Totals.CaptureErrors,
		); err != nil {
			return nil, err
		}
		s.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			t := time.UnixMilli(ended.Int64)
			s.EndedAt = &t
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Intervals returns the intervals of a session in time order.
func (db *DB) Intervals(sessionID string) ([]Interval, error) {
	rows, err := db.Query(
		`SELECT start_unix_ms, duration_ms, frames, frame_bytes, datagrams, datagram_bytes,
			send_errors, capture_errors, mean_frame_bytes, stddev_frame_bytes
		FROM session_intervals WHERE session_id = ?
		ORDER BY start_unix_ms, interval_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intervals []Interval
	for rows.Next() {
		var iv Interval
		var start, durationMs int64
		if err := rows.Scan(
			&start, &durationMs, &iv.Frames, &iv.FrameBytes, &iv.Datagrams, &iv.DatagramBytes,
			&iv.SendErrors, &iv.CaptureErrors, &iv.MeanFrameBytes, &iv.StdDevFrameBytes,
		); err != nil {
			return nil, err
		}
		iv.Start = time.UnixMilli(start)
		iv.Duration = time.Duration(durationMs) * time.Millisecond
		intervals = append(intervals, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return intervals, nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Session DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.handleBackup))
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	backupName := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(os.TempDir(), backupName)
	if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to create backup: %v", err))
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to open backup file: %v", err))
		return
	}
	defer func() {
		backupFile.Close()
		if err := os.Remove(backupPath); err != nil {
			log.Printf("Failed to remove backup file: %v", err)
		}
	}()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupName))
	w.Header().Set("Content-Type", "application/gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		log.Printf("Failed to write backup file: %v", err)
	}
}
