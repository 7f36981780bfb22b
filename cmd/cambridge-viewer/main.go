// Command cambridge-viewer receives the frame stream sent by cambridge and
// writes the latest frame to disk. It stands in for the simulator app when
// testing the sender on its own.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/banshee-data/cambridge/internal/monitor"
	"github.com/banshee-data/cambridge/internal/monitoring"
	"github.com/banshee-data/cambridge/internal/network"
	"github.com/banshee-data/cambridge/internal/version"
)

var (
	listen        = flag.String("listen", ":5005", "UDP listen address")
	outDir        = flag.String("out", ".", "directory for latest.png")
	keep          = flag.Bool("keep", false, "also keep every frame as frame-NNNNNN.png")
	rcvBuf        = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes")
	statsInterval = flag.Duration("stats-interval", time.Minute, "statistics log interval")
	debugListen   = flag.String("debug-listen", "", "debug HTTP listen address")
	verbose       = flag.Bool("v", false, "log every frame")
)

// frameWriter validates received frames and stores them on disk.
type frameWriter struct {
	dir   string
	keep  bool
	stats *monitor.StreamStats

	written atomic.Int64
}

// Written returns how many frames reached disk.
func (w *frameWriter) Written() int64 {
	return w.written.Load()
}

// handle decodes frame as PNG and writes it to latest.png through a rename
// so readers never see a partial file.
func (w *frameWriter) handle(frame []byte) error {
	img, err := png.Decode(bytes.NewReader(frame))
	if err != nil {
		return fmt.Errorf("failed to decode %d byte frame: %w", len(frame), err)
	}
	b := img.Bounds()
	monitoring.Debugf("received: %dx%d frame, %d bytes", b.Dx(), b.Dy(), len(frame))

	if w.stats != nil {
		w.stats.SetLatestFrame(frame)
	}

	if err := writeAtomic(filepath.Join(w.dir, "latest.png"), frame); err != nil {
		return err
	}
	if w.keep {
		name := filepath.Join(w.dir, fmt.Sprintf("frame-%06d.png", w.written.Load()))
		if err := os.WriteFile(name, frame, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	w.written.Add(1)
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".latest-*.png")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func main() {
	flag.Parse()
	log.Println(version.Banner("cambridge-viewer"))
	monitoring.SetVerbose(*verbose)

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	stats := monitor.NewStreamStats()
	writer := &frameWriter{dir: *outDir, keep: *keep, stats: stats}
	receiver := network.NewReceiver(network.ReceiverConfig{
		Address:     *listen,
		RcvBuf:      *rcvBuf,
		LogInterval: *statsInterval,
		Stats:       stats,
		Handler:     writer.handle,
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := receiver.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("receiver stopped: %v", err)
			stop()
		}
	}()

	if *debugListen != "" {
		mux := http.NewServeMux()
		stats.AttachAdminRoutes(mux, func() map[string]any {
			return map[string]any{
				"listen":  *listen,
				"out":     *outDir,
				"written": writer.Written(),
			}
		})
		server := &http.Server{Addr: *debugListen, Handler: mux}

		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("failed to start debug server: %v", err)
				}
			}()
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown error: %v", err)
				server.Close()
			}
		}()
	}

	wg.Wait()
	stats.LogStats()
	log.Printf("Graceful shutdown complete")
}
