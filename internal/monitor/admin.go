package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/cambridge/internal/httputil"
)

// StatusFunc adds fields to the /debug/stream document, such as the
// destination and the probed packet size.
type StatusFunc func() map[string]any

type streamStatus struct {
	UptimeSeconds float64        `json:"uptime_seconds"`
	Totals        Totals         `json:"totals"`
	Latest        *StatsSnapshot `json:"latest,omitempty"`
	Info          map[string]any `json:"info,omitempty"`
}

// AttachAdminRoutes mounts the stream pages on the tsweb debug handler.
func (s *StreamStats) AttachAdminRoutes(mux *http.ServeMux, status StatusFunc) {
	debug := tsweb.Debugger(mux)

	debug.Handle("stream", "Streaming statistics (JSON)", s.statusHandler(status))
	debug.Handle("frame.png", "Most recent frame sent", http.HandlerFunc(s.handleLatestFrame))
	debug.Handle("frame-sizes", "Chart of recent encoded frame sizes", http.HandlerFunc(s.handleFrameSizesChart))
}

func (s *StreamStats) statusHandler(status StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w, http.MethodGet)
			return
		}
		doc := streamStatus{
			UptimeSeconds: s.GetUptime().Seconds(),
			Totals:        s.Totals(),
			Latest:        s.GetLatestSnapshot(),
		}
		if status != nil {
			doc.Info = status()
		}
		httputil.WriteJSON(w, http.StatusOK, doc)
	}
}

func (s *StreamStats) handleLatestFrame(w http.ResponseWriter, r *http.Request) {
	frame, at := s.LatestFrame()
	if len(frame) == 0 {
		httputil.NotFound(w, "no frame yet")
		return
	}
	httputil.WriteImage(w, "image/png", frame, at)
}

// handleFrameSizesChart renders a line chart of the recent frame sizes using go-echarts.
func (s *StreamStats) handleFrameSizesChart(w http.ResponseWriter, r *http.Request) {
	sizes := s.FrameSizes()

	x := make([]int, len(sizes))
	data := make([]opts.LineData, len(sizes))
	for i, n := range sizes {
		x[i] = i - len(sizes) + 1
		data[i] = opts.LineData{Value: n}
	}

	subtitle := fmt.Sprintf("frames=%d at %s", len(sizes), time.Now().Format(time.RFC3339))
	if snap := s.GetLatestSnapshot(); snap != nil {
		subtitle += fmt.Sprintf(" mean=%.0f sd=%.0f", snap.MeanFrameBytes, snap.StdDevFrameBytes)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Frame sizes", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Encoded frame size", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "bytes", NameLocation: "middle", NameGap: 60}),
	)
	line.SetXAxis(x).AddSeries("png bytes", data)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
