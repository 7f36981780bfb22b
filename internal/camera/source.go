// Package camera provides frame sources: the interface the capture loop reads
// from, a directory replay source for development, and a mock for tests. The
// OpenCV device lives in the opencv subpackage.
package camera

import (
	"context"
	"errors"
	"image"
	"sync"
)

var (
	// ErrSourceClosed is returned by Read after Close.
	ErrSourceClosed = errors.New("frame source closed")
	// ErrReadFailed is returned when the device delivers no frame.
	ErrReadFailed = errors.New("failed to capture frame")
)

// Source delivers captured frames. Implementations are not required to be
// safe for concurrent Read calls.
type Source interface {
	// Read blocks until the next frame is available.
	Read(ctx context.Context) (image.Image, error)
	// Close releases the underlying device.
	Close() error
	// String names the source for logs.
	String() string
}

// MockSource replays a fixed list of frames.
type MockSource struct {
	mu sync.Mutex

	// Frames holds the frames to return from Read, in order.
	Frames []image.Image
	// Loop restarts from the first frame when the list is exhausted.
	Loop bool
	// ReadError, if set, is returned once the frames are exhausted.
	ReadError error

	// ReadIndex tracks the position in Frames.
	ReadIndex int
	// Reads counts Read calls.
	Reads int
	// Closed records whether Close was called.
	Closed bool
}

// NewMockSource creates a MockSource with the given frames.
func NewMockSource(frames ...image.Image) *MockSource {
	return &MockSource{Frames: frames}
}

// Read returns the next frame. Without Loop, an exhausted source returns
// ReadError or ErrReadFailed.
func (m *MockSource) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Reads++
	if m.Closed {
		return nil, ErrSourceClosed
	}
	if m.ReadIndex >= len(m.Frames) {
		if !m.Loop || len(m.Frames) == 0 {
			if m.ReadError != nil {
				return nil, m.ReadError
			}
			return nil, ErrReadFailed
		}
		m.ReadIndex = 0
	}
	img := m.Frames[m.ReadIndex]
	m.ReadIndex++
	return img, nil
}

// Close marks the source closed.
func (m *MockSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockSource) String() string { return "mock" }
