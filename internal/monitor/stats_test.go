package monitor

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestNewStreamStats(t *testing.T) {
	stats := NewStreamStats()

	if stats == nil {
		t.Fatal("NewStreamStats returned nil")
	}
	if uptime := stats.GetUptime(); uptime > 100*time.Millisecond {
		t.Errorf("Uptime too large for new stats: %v", uptime)
	}
	if stats.GetLatestSnapshot() != nil {
		t.Error("Expected no snapshot before the first report")
	}
}

func TestStreamStats_GetAndReset(t *testing.T) {
	stats := NewStreamStats()

	stats.AddFrame(100)
	stats.AddFrame(300)
	stats.AddDatagram(1)
	stats.AddDatagram(400)
	stats.AddSendError()
	stats.AddCaptureError()
	stats.AddDropped()

	iv := stats.GetAndReset()
	want := Totals{
		Frames:        2,
		FrameBytes:    400,
		Datagrams:     2,
		DatagramBytes: 401,
		SendErrors:    1,
		CaptureErrors: 1,
		Dropped:       1,
	}
	if diff := cmp.Diff(want, iv.Totals); diff != "" {
		t.Errorf("interval mismatch (-want +got):\n%s", diff)
	}
	if iv.MeanFrameBytes != 200 {
		t.Errorf("Expected mean 200, got %v", iv.MeanFrameBytes)
	}
	// Sample standard deviation of {100, 300}.
	if math.Abs(iv.StdDevFrameBytes-141.42) > 0.01 {
		t.Errorf("Expected stddev ~141.42, got %v", iv.StdDevFrameBytes)
	}
	if iv.Duration <= 0 {
		t.Errorf("Expected positive duration, got %v", iv.Duration)
	}

	// The interval is cleared, the totals are not.
	if next := stats.GetAndReset(); next.Totals != (Totals{}) {
		t.Errorf("Expected empty interval after reset, got %+v", next.Totals)
	}
	if diff := cmp.Diff(want, stats.Totals()); diff != "" {
		t.Errorf("totals mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamStats_SingleFrameStdDev(t *testing.T) {
	stats := NewStreamStats()
	stats.AddFrame(42)
	iv := stats.GetAndReset()
	if iv.MeanFrameBytes != 42 || iv.StdDevFrameBytes != 0 {
		t.Errorf("Expected mean 42 sd 0, got %v / %v", iv.MeanFrameBytes, iv.StdDevFrameBytes)
	}
}

func TestStreamStats_Report(t *testing.T) {
	stats := NewStreamStats()

	// Nothing happened: no snapshot.
	stats.Report()
	if stats.GetLatestSnapshot() != nil {
		t.Error("Expected no snapshot for an idle interval")
	}

	stats.AddFrame(1000)
	stats.AddDatagram(1)
	stats.AddDatagram(1000)
	stats.AddSendError()
	iv := stats.Report()
	if iv.Frames != 1 || iv.SendErrors != 1 {
		t.Errorf("Unexpected interval %+v", iv)
	}

	snap := stats.GetLatestSnapshot()
	if snap == nil {
		t.Fatal("Expected a snapshot after report")
	}
	if snap.FramesPerSec <= 0 || snap.DatagramsPerSec <= 0 {
		t.Errorf("Expected positive rates, got %+v", snap)
	}
	if snap.SendErrors != 1 {
		t.Errorf("Expected 1 send error in snapshot, got %d", snap.SendErrors)
	}

	// Returned snapshot is a copy.
	snap.SendErrors = 99
	if stats.GetLatestSnapshot().SendErrors != 1 {
		t.Error("Snapshot should be returned by value")
	}
}

func TestStreamStats_FrameSizesHistory(t *testing.T) {
	stats := NewStreamStatsWithHistory(3)
	if got := stats.FrameSizes(); len(got) != 0 {
		t.Errorf("Expected empty history, got %v", got)
	}

	stats.AddFrame(1)
	stats.AddFrame(2)
	if diff := cmp.Diff([]int{1, 2}, stats.FrameSizes()); diff != "" {
		t.Errorf("partial history mismatch (-want +got):\n%s", diff)
	}

	for _, n := range []int{3, 4, 5} {
		stats.AddFrame(n)
	}
	if diff := cmp.Diff([]int{3, 4, 5}, stats.FrameSizes()); diff != "" {
		t.Errorf("wrapped history mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamStats_LatestFrame(t *testing.T) {
	stats := NewStreamStats()
	if frame, _ := stats.LatestFrame(); frame != nil {
		t.Error("Expected no frame initially")
	}
	stats.SetLatestFrame([]byte("png"))
	frame, at := stats.LatestFrame()
	if string(frame) != "png" || at.IsZero() {
		t.Errorf("Unexpected latest frame %q at %v", frame, at)
	}
}

func TestStreamStats_Concurrent(t *testing.T) {
	stats := NewStreamStats()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				stats.AddFrame(10)
				stats.AddDatagram(10)
			}
		}()
	}
	wg.Wait()

	totals := stats.Totals()
	if totals.Frames != 800 || totals.Datagrams != 800 {
		t.Errorf("Expected 800 frames and datagrams, got %+v", totals)
	}
}

func TestFormatWithCommas(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-45123, "-45,123"},
	}
	for _, tt := range tests {
		if got := FormatWithCommas(tt.in); got != tt.want {
			t.Errorf("FormatWithCommas(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
