// Package stream runs the capture loop: read a frame, crop and encode it,
// send it as chunked datagrams.
package stream

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/cambridge/internal/camera"
	"github.com/banshee-data/cambridge/internal/db"
	"github.com/banshee-data/cambridge/internal/frame"
	"github.com/banshee-data/cambridge/internal/monitor"
	"github.com/banshee-data/cambridge/internal/monitoring"
	"github.com/banshee-data/cambridge/internal/timeutil"
)

// DefaultStatsInterval is used when Config.StatsInterval is zero.
const DefaultStatsInterval = time.Minute

// FrameSender sends encoded frames. *network.ChunkSender implements it.
type FrameSender interface {
	SendFrame(payload []byte) (datagrams int, err error)
	Flush() error
}

// Preview displays cropped frames locally. Show reports whether the user
// asked to quit.
type Preview interface {
	Show(img image.Image) (quit bool)
}

// SessionStore persists a session and its statistics intervals. *db.DB
// implements it.
type SessionStore interface {
	StartSession(s *db.Session) error
	RecordInterval(sessionID string, iv db.Interval) error
	EndSession(sessionID string, totals db.SessionTotals) error
}

// Config wires a Streamer.
type Config struct {
	Source    camera.Source
	Sender    FrameSender
	Processor *frame.Processor
	// Stats defaults to a fresh monitor.StreamStats.
	Stats *monitor.StreamStats
	// Preview is optional.
	Preview Preview
	// Store is optional. Session carries the metadata stored with it.
	Store   SessionStore
	Session db.Session
	// MaxFPS limits the capture rate. Zero means unlimited.
	MaxFPS        float64
	StatsInterval time.Duration
	// Clock defaults to the wall clock.
	Clock timeutil.Clock
}

// Streamer owns one capture loop.
type Streamer struct {
	source        camera.Source
	sender        FrameSender
	processor     *frame.Processor
	stats         *monitor.StreamStats
	preview       Preview
	store         SessionStore
	session       db.Session
	frameInterval time.Duration
	statsInterval time.Duration
	clock         timeutil.Clock

	storeMu       sync.Mutex
	lastSendError time.Time
}

// New validates cfg and creates a Streamer.
func New(cfg Config) (*Streamer, error) {
	if cfg.Source == nil {
		return nil, errors.New("stream: source is required")
	}
	if cfg.Sender == nil {
		return nil, errors.New("stream: sender is required")
	}
	if cfg.Processor == nil {
		return nil, errors.New("stream: processor is required")
	}
	if cfg.MaxFPS < 0 {
		return nil, fmt.Errorf("stream: max fps must be non-negative, got %v", cfg.MaxFPS)
	}
	stats := cfg.Stats
	if stats == nil {
		stats = monitor.NewStreamStats()
	}
	statsInterval := cfg.StatsInterval
	if statsInterval <= 0 {
		statsInterval = DefaultStatsInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	var frameInterval time.Duration
	if cfg.MaxFPS > 0 {
		frameInterval = time.Duration(float64(time.Second) / cfg.MaxFPS)
	}
	return &Streamer{
		source:        cfg.Source,
		sender:        cfg.Sender,
		processor:     cfg.Processor,
		stats:         stats,
		preview:       cfg.Preview,
		store:         cfg.Store,
		session:       cfg.Session,
		frameInterval: frameInterval,
		statsInterval: statsInterval,
		clock:         clock,
	}, nil
}

// Stats returns the statistics the loop reports into.
func (s *Streamer) Stats() *monitor.StreamStats {
	return s.stats
}

// SessionID returns the id of the stored session, or "" without a store.
func (s *Streamer) SessionID() string {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	return s.session.ID
}

// Run captures and sends frames until ctx is cancelled, the preview asks to
// quit or the source fails. A source failure is returned; the other two end
// the loop with a nil error. Before returning, the trailing delimiter is
// flushed and the source is closed.
func (s *Streamer) Run(ctx context.Context) error {
	s.startSession()

	statsCtx, stopStats := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.startStatsLogging(statsCtx)
	}()

	runErr := s.loop(ctx)

	stopStats()
	wg.Wait()

	if err := s.sender.Flush(); err != nil {
		log.Printf("failed to flush trailing delimiter: %v", err)
	}
	if err := s.source.Close(); err != nil {
		log.Printf("failed to close %s: %v", s.source, err)
	}
	s.report()
	s.endSession()
	return runErr
}

func (s *Streamer) loop(ctx context.Context) error {
	var pace timeutil.Ticker
	if s.frameInterval > 0 {
		pace = s.clock.NewTicker(s.frameInterval)
		defer pace.Stop()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		img, err := s.source.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.stats.AddCaptureError()
			log.Printf("failed to capture frame from %s: %v", s.source, err)
			return fmt.Errorf("failed to capture frame: %w", err)
		}

		cropped, data, err := s.processor.Process(img)
		if err != nil {
			s.stats.AddCaptureError()
			log.Printf("failed to process frame: %v", err)
			continue
		}
		monitoring.Debugf("captured: image size %d bytes", len(data))

		s.stats.AddFrame(len(data))
		s.stats.SetLatestFrame(data)

		if _, err := s.sender.SendFrame(data); err != nil {
			s.logSendError(err)
		}

		if s.preview != nil && s.preview.Show(cropped) {
			log.Printf("preview closed, stopping")
			return nil
		}

		if pace != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-pace.C():
			}
		}
	}
}

// logSendError logs at most one send error per stats interval. Every error
// is still counted by the sender.
func (s *Streamer) logSendError(err error) {
	now := s.clock.Now()
	if !s.lastSendError.IsZero() && now.Sub(s.lastSendError) < s.statsInterval {
		return
	}
	s.lastSendError = now
	log.Printf("\033[93mfailed to send frame: %v\033[0m", err)
}

func (s *Streamer) startStatsLogging(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-s.clock.After(2 * time.Second):
		s.report()
	}

	ticker := s.clock.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.report()
		}
	}
}

// report logs one interval and appends it to the session.
func (s *Streamer) report() {
	iv := s.stats.Report()

	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	if s.store == nil || s.session.ID == "" || idle(iv.Totals) {
		return
	}
	if err := s.store.RecordInterval(s.session.ID, toInterval(iv)); err != nil {
		log.Printf("failed to record stats interval: %v", err)
	}
}

// idle reports whether an interval saw no frames and no errors. The trailing
// delimiter sent on shutdown alone does not make an interval worth storing.
func idle(t monitor.Totals) bool {
	return t.Frames == 0 && t.SendErrors == 0 && t.CaptureErrors == 0 && t.Dropped == 0
}

func (s *Streamer) startSession() {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	if s.store == nil {
		return
	}
	if s.session.Source == "" {
		s.session.Source = s.source.String()
	}
	if err := s.store.StartSession(&s.session); err != nil {
		log.Printf("failed to start session, not recording: %v", err)
		s.session.ID = ""
		return
	}
	log.Printf("recording session %s", s.session.ID)
}

func (s *Streamer) endSession() {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()
	if s.store == nil || s.session.ID == "" {
		return
	}
	t := s.stats.Totals()
	totals := db.SessionTotals{
		Frames:        t.Frames,
		FrameBytes:    t.FrameBytes,
		Datagrams:     t.Datagrams,
		SendErrors:    t.SendErrors,
		CaptureErrors: t.CaptureErrors,
	}
	if err := s.store.EndSession(s.session.ID, totals); err != nil {
		log.Printf("failed to end session %s: %v", s.session.ID, err)
	}
}

func toInterval(iv monitor.IntervalStats) db.Interval {
	return db.Interval{
		Start:            iv.Start,
		Duration:         iv.Duration,
		Frames:           iv.Frames,
		FrameBytes:       iv.FrameBytes,
		Datagrams:        iv.Datagrams,
		DatagramBytes:    iv.DatagramBytes,
		SendErrors:       iv.SendErrors,
		CaptureErrors:    iv.CaptureErrors,
		MeanFrameBytes:   iv.MeanFrameBytes,
		StdDevFrameBytes: iv.StdDevFrameBytes,
	}
}
