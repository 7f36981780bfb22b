package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cambridge/internal/monitor"
)

func encodeTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFrameWriter_WritesLatest(t *testing.T) {
	dir := t.TempDir()
	stats := monitor.NewStreamStats()
	w := &frameWriter{dir: dir, stats: stats}

	first := encodeTestPNG(t, 4, 4)
	second := encodeTestPNG(t, 6, 2)
	require.NoError(t, w.handle(first))
	require.NoError(t, w.handle(second))

	got, err := os.ReadFile(filepath.Join(dir, "latest.png"))
	require.NoError(t, err)
	assert.Equal(t, second, got)

	latest, _ := stats.LatestFrame()
	assert.Equal(t, second, latest)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files should not be left behind")
}

func TestFrameWriter_Keep(t *testing.T) {
	dir := t.TempDir()
	w := &frameWriter{dir: dir, keep: true}

	for i := 0; i < 3; i++ {
		require.NoError(t, w.handle(encodeTestPNG(t, 2, 2)))
	}
	for _, name := range []string{"latest.png", "frame-000000.png", "frame-000001.png", "frame-000002.png"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	assert.Equal(t, int64(3), w.Written())
}

func TestFrameWriter_RejectsBadFrames(t *testing.T) {
	dir := t.TempDir()
	w := &frameWriter{dir: dir}

	assert.Error(t, w.handle([]byte("not a png")))

	truncated := encodeTestPNG(t, 8, 8)
	assert.Error(t, w.handle(truncated[:len(truncated)/2]))

	_, err := os.Stat(filepath.Join(dir, "latest.png"))
	assert.True(t, os.IsNotExist(err), "a bad frame must not replace latest.png")
	assert.Zero(t, w.Written())
}

func TestFrameWriter_WrittenCountsOnlyStoredFrames(t *testing.T) {
	stats := monitor.NewStreamStats()
	w := &frameWriter{dir: t.TempDir(), stats: stats}

	require.NoError(t, w.handle(encodeTestPNG(t, 2, 2)))
	assert.Error(t, w.handle([]byte("garbage")))
	stats.AddDropped()
	require.NoError(t, w.handle(encodeTestPNG(t, 3, 3)))

	assert.Equal(t, int64(2), w.Written())
}
