package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/cambridge/internal/network"
)

func recordStream(t *testing.T, path string, port int, frames ...[]byte) {
	t.Helper()
	rec, err := network.NewRecorder(path)
	require.NoError(t, err)

	s, err := network.NewChunkSender(network.ChunkSenderConfig{
		Conn:        network.NewMockPacketConn(),
		Destination: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port},
		MaxPacket:   32,
		Tap:         rec,
	})
	require.NoError(t, err)
	for _, f := range frames {
		_, err := s.SendFrame(f)
		require.NoError(t, err)
	}
	require.NoError(t, s.Flush())
	require.NoError(t, rec.Close())
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	pcapPath := filepath.Join(dir, "stream.pcap")
	a, b := testPNG(t, 3, 3), testPNG(t, 5, 2)
	recordStream(t, pcapPath, 5005, a, []byte("garbage"), b)

	res, err := extract(context.Background(), Config{
		PCAPFile:  pcapPath,
		OutputDir: filepath.Join(dir, "out"),
		UDPPort:   5005,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Frames)
	assert.Equal(t, 3, res.Written)
	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, []string{"frame-000000.png", "frame-000001.png", "frame-000002.png"}, res.Files)

	got, err := os.ReadFile(filepath.Join(dir, "out", "frame-000002.png"))
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestExtract_ValidOnlyAndPortFilter(t *testing.T) {
	dir := t.TempDir()
	pcapPath := filepath.Join(dir, "stream.pcap")
	recordStream(t, pcapPath, 5005, testPNG(t, 2, 2), []byte("garbage"))

	res, err := extract(context.Background(), Config{
		PCAPFile:  pcapPath,
		OutputDir: filepath.Join(dir, "valid"),
		UDPPort:   5005,
		ValidOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Frames)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 1, res.Invalid)

	res, err = extract(context.Background(), Config{
		PCAPFile:  pcapPath,
		OutputDir: filepath.Join(dir, "other"),
		UDPPort:   6000,
	})
	require.NoError(t, err)
	assert.Zero(t, res.Frames)
	assert.Empty(t, res.Files)
}

func TestExtract_MissingFile(t *testing.T) {
	_, err := extract(context.Background(), Config{
		PCAPFile:  filepath.Join(t.TempDir(), "missing.pcap"),
		OutputDir: t.TempDir(),
	})
	assert.Error(t, err)
}
