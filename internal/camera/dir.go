package camera

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	// decoders for fixture files
	_ "image/jpeg"
	_ "image/png"
)

// DirSource replays the PNG and JPEG files of a directory in lexical order,
// looping forever. It stands in for the camera in dev mode.
type DirSource struct {
	dir      string
	files    []string
	frames   []image.Image
	next     int
	interval time.Duration
	last     time.Time
	closed   bool
}

// NewDirSource loads every image in dir. interval paces Read like a camera;
// zero returns frames as fast as they are requested.
func NewDirSource(dir string, interval time.Duration) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no png or jpeg fixtures in %s", dir)
	}

	s := &DirSource{dir: dir, files: files, interval: interval}
	for _, name := range files {
		img, err := decodeFile(name)
		if err != nil {
			return nil, err
		}
		s.frames = append(s.frames, img)
	}
	return s, nil
}

func decodeFile(name string) (image.Image, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode fixture %s: %w", name, err)
	}
	return img, nil
}

// Read returns the next fixture frame.
func (s *DirSource) Read(ctx context.Context) (image.Image, error) {
	if s.closed {
		return nil, ErrSourceClosed
	}
	if s.interval > 0 && !s.last.IsZero() {
		wait := s.interval - time.Since(s.last)
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.last = time.Now()

	img := s.frames[s.next]
	s.next = (s.next + 1) % len(s.frames)
	return img, nil
}

// Len returns the number of fixture frames.
func (s *DirSource) Len() int {
	return len(s.frames)
}

// Close stops the source.
func (s *DirSource) Close() error {
	s.closed = true
	return nil
}

func (s *DirSource) String() string {
	return fmt.Sprintf("fixtures %s (%d frames)", s.dir, len(s.files))
}
