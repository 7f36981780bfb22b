// Command pcap-frames extracts the frames of a recorded stream (cambridge
// -record) and writes them as numbered PNG files.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image/png"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/cambridge/internal/network"
)

// Config holds the extraction settings.
type Config struct {
	PCAPFile  string
	OutputDir string
	UDPPort   int
	// ValidOnly skips frames that do not decode as PNG.
	ValidOnly bool
}

// Result summarises one extraction.
type Result struct {
	PCAPFile string   `json:"pcap_file"`
	Frames   int      `json:"frames"`
	Written  int      `json:"written"`
	Invalid  int      `json:"invalid"`
	Bytes    int64    `json:"bytes"`
	Files    []string `json:"files"`
}

func extract(ctx context.Context, cfg Config) (*Result, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	res := &Result{PCAPFile: cfg.PCAPFile}
	frames, err := network.ReadPCAPFrames(ctx, cfg.PCAPFile, cfg.UDPPort, func(frame []byte) error {
		if _, err := png.DecodeConfig(bytes.NewReader(frame)); err != nil {
			res.Invalid++
			if cfg.ValidOnly {
				return nil
			}
		}
		name := filepath.Join(cfg.OutputDir, fmt.Sprintf("frame-%06d.png", res.Written))
		if err := os.WriteFile(name, frame, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		res.Written++
		res.Bytes += int64(len(frame))
		res.Files = append(res.Files, filepath.Base(name))
		return nil
	})
	res.Frames = frames
	if err != nil {
		return res, err
	}
	return res, nil
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.PCAPFile, "pcap", "", "pcap file written by cambridge -record")
	flag.StringVar(&cfg.OutputDir, "out", "frames", "output directory")
	flag.IntVar(&cfg.UDPPort, "port", 5005, "UDP destination port to extract, 0 for all")
	flag.BoolVar(&cfg.ValidOnly, "valid-only", false, "skip frames that are not valid PNG")
	summary := flag.Bool("json", false, "print a JSON summary")
	flag.Parse()

	if cfg.PCAPFile == "" {
		log.Fatal("-pcap is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := extract(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to extract frames: %v", err)
	}

	if *summary {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			log.Fatalf("failed to write summary: %v", err)
		}
		return
	}
	log.Printf("%d frames in %s, %d written to %s (%d not valid PNG)",
		res.Frames, cfg.PCAPFile, res.Written, cfg.OutputDir, res.Invalid)
}
