// Package monitor tracks streaming statistics and serves them on the debug
// routes.
package monitor

import (
	"fmt"
	"log"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultHistorySize is how many recent frame sizes are kept for the chart.
const DefaultHistorySize = 600

// Totals are the counters accumulated since the stats were created.
type Totals struct {
	Frames        int64 `json:"frames"`
	FrameBytes    int64 `json:"frame_bytes"`
	Datagrams     int64 `json:"datagrams"`
	DatagramBytes int64 `json:"datagram_bytes"`
	SendErrors    int64 `json:"send_errors"`
	CaptureErrors int64 `json:"capture_errors"`
	Dropped       int64 `json:"dropped"`
}

// IntervalStats are the counters of one reporting interval.
type IntervalStats struct {
	Totals
	Start            time.Time     `json:"start"`
	Duration         time.Duration `json:"duration"`
	MeanFrameBytes   float64       `json:"mean_frame_bytes"`
	StdDevFrameBytes float64       `json:"stddev_frame_bytes"`
}

// StatsSnapshot represents a snapshot of the latest interval rates
type StatsSnapshot struct {
	FramesPerSec     float64   `json:"frames_per_sec"`
	MBPerSec         float64   `json:"mb_per_sec"`
	DatagramsPerSec  float64   `json:"datagrams_per_sec"`
	MeanFrameBytes   float64   `json:"mean_frame_bytes"`
	StdDevFrameBytes float64   `json:"stddev_frame_bytes"`
	SendErrors       int64     `json:"send_errors"`
	CaptureErrors    int64     `json:"capture_errors"`
	Dropped          int64     `json:"dropped"`
	Timestamp        time.Time `json:"timestamp"`
}

// StreamStats tracks frame and datagram statistics with thread-safe
// operations. It serves both the sending and the receiving side.
type StreamStats struct {
	mu             sync.Mutex
	interval       Totals
	total          Totals
	intervalSizes  []float64
	history        []int
	historySize    int
	historyNext    int
	lastReset      time.Time
	startTime      time.Time
	latestSnapshot *StatsSnapshot
	latestFrame    []byte
	latestFrameAt  time.Time
}

// NewStreamStats creates a new StreamStats instance
func NewStreamStats() *StreamStats {
	return NewStreamStatsWithHistory(DefaultHistorySize)
}

// NewStreamStatsWithHistory keeps the last n frame sizes.
func NewStreamStatsWithHistory(n int) *StreamStats {
	if n <= 0 {
		n = DefaultHistorySize
	}
	now := time.Now()
	return &StreamStats{
		historySize: n,
		lastReset:   now,
		startTime:   now,
	}
}

// AddFrame counts one encoded frame of the given size.
func (s *StreamStats) AddFrame(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval.Frames++
	s.interval.FrameBytes += int64(bytes)
	s.total.Frames++
	s.total.FrameBytes += int64(bytes)
	s.intervalSizes = append(s.intervalSizes, float64(bytes))

	if len(s.history) < s.historySize {
		s.history = append(s.history, bytes)
	} else {
		s.history[s.historyNext] = bytes
	}
	s.historyNext = (s.historyNext + 1) % s.historySize
}

// AddDatagram counts one datagram.
func (s *StreamStats) AddDatagram(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval.Datagrams++
	s.interval.DatagramBytes += int64(bytes)
	s.total.Datagrams++
	s.total.DatagramBytes += int64(bytes)
}

// AddSendError counts a failed datagram write.
func (s *StreamStats) AddSendError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval.SendErrors++
	s.total.SendErrors++
}

// AddCaptureError counts a frame that could not be read or encoded.
func (s *StreamStats) AddCaptureError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval.CaptureErrors++
	s.total.CaptureErrors++
}

// AddDropped counts a frame that was discarded.
func (s *StreamStats) AddDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval.Dropped++
	s.total.Dropped++
}

// GetAndReset returns the current interval and resets its counters
func (s *StreamStats) GetAndReset() IntervalStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	out := IntervalStats{
		Totals:   s.interval,
		Start:    s.lastReset,
		Duration: now.Sub(s.lastReset),
	}
	if len(s.intervalSizes) > 0 {
		out.MeanFrameBytes, out.StdDevFrameBytes = stat.MeanStdDev(s.intervalSizes, nil)
		if len(s.intervalSizes) == 1 {
			// MeanStdDev reports NaN for a single sample.
			out.StdDevFrameBytes = 0
		}
	}

	s.interval = Totals{}
	s.intervalSizes = s.intervalSizes[:0]
	s.lastReset = now
	return out
}

// Report resets the interval, logs it when anything happened and stores a
// snapshot for the debug routes.
func (s *StreamStats) Report() IntervalStats {
	iv := s.GetAndReset()
	if iv.Frames == 0 && iv.Datagrams == 0 && iv.SendErrors == 0 && iv.CaptureErrors == 0 && iv.Dropped == 0 {
		return iv
	}

	secs := iv.Duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	snap := &StatsSnapshot{
		FramesPerSec:     float64(iv.Frames) / secs,
		MBPerSec:         float64(iv.DatagramBytes) / secs / (1024 * 1024),
		DatagramsPerSec:  float64(iv.Datagrams) / secs,
		MeanFrameBytes:   iv.MeanFrameBytes,
		StdDevFrameBytes: iv.StdDevFrameBytes,
		SendErrors:       iv.SendErrors,
		CaptureErrors:    iv.CaptureErrors,
		Dropped:          iv.Dropped,
		Timestamp:        time.Now(),
	}
	s.mu.Lock()
	s.latestSnapshot = snap
	s.mu.Unlock()

	logMsg := fmt.Sprintf("Stream stats (/sec): %.1f frames, %.2f MB, %.1f datagrams",
		snap.FramesPerSec, snap.MBPerSec, snap.DatagramsPerSec)
	if iv.Frames > 0 {
		logMsg += fmt.Sprintf("; frame size %s B (sd %s)",
			FormatWithCommas(int64(iv.MeanFrameBytes)), FormatWithCommas(int64(iv.StdDevFrameBytes)))
	}
	if iv.CaptureErrors > 0 {
		logMsg += fmt.Sprintf(", %d capture errors", iv.CaptureErrors)
	}
	if iv.Dropped > 0 {
		logMsg += fmt.Sprintf(", %d frames dropped", iv.Dropped)
	}
	if iv.SendErrors > 0 {
		logMsg += fmt.Sprintf(", \033[93m%d send errors\033[0m", iv.SendErrors)
	}
	log.Print(logMsg)
	return iv
}

// LogStats logs the interval and discards it.
func (s *StreamStats) LogStats() {
	s.Report()
}

// Totals returns the counters since creation.
func (s *StreamStats) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// GetUptime returns the time since the stats were created
func (s *StreamStats) GetUptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.startTime)
}

// GetLatestSnapshot returns the most recent stats snapshot for web interface
func (s *StreamStats) GetLatestSnapshot() *StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestSnapshot == nil {
		return nil
	}
	snapshot := *s.latestSnapshot
	return &snapshot
}

// FrameSizes returns the recent frame sizes, oldest first.
func (s *StreamStats) FrameSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.history))
	if len(s.history) < s.historySize {
		return append(out, s.history...)
	}
	out = append(out, s.history[s.historyNext:]...)
	return append(out, s.history[:s.historyNext]...)
}

// SetLatestFrame keeps the most recent encoded frame for the debug routes.
// The slice must not be modified afterwards.
func (s *StreamStats) SetLatestFrame(png []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestFrame = png
	s.latestFrameAt = time.Now()
}

// LatestFrame returns the most recent encoded frame, if any.
func (s *StreamStats) LatestFrame() ([]byte, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestFrame, s.latestFrameAt
}

// FormatWithCommas formats a number with thousands separators
func FormatWithCommas(n int64) string {
	if n < 0 {
		return "-" + FormatWithCommas(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
