package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/cambridge/internal/camera"
	"github.com/banshee-data/cambridge/internal/config"
	"github.com/banshee-data/cambridge/internal/db"
	"github.com/banshee-data/cambridge/internal/display"
	"github.com/banshee-data/cambridge/internal/frame"
	"github.com/banshee-data/cambridge/internal/monitor"
	"github.com/banshee-data/cambridge/internal/monitoring"
	"github.com/banshee-data/cambridge/internal/network"
	"github.com/banshee-data/cambridge/internal/stream"
	"github.com/banshee-data/cambridge/internal/version"
)

//go:embed help.txt
var helpText string

// options holds the parsed command line.
type options struct {
	verbose    bool
	camera     bool
	help       bool
	configPath string
	host       string
	port       int
	device     int
	fps        float64
	maxPacket  int
	noProbe    bool
	devDir     string
	record     string
	dbPath     string
	listen     string

	// devices are the positional arguments naming the simulator model.
	devices []string
	// set records which flags were given explicitly.
	set map[string]bool
}

func newFlagSet(o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("cambridge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.BoolVar(&o.verbose, "v", false, "verbose mode")
	fs.BoolVar(&o.verbose, "verbose", false, "verbose mode")
	fs.BoolVar(&o.camera, "c", false, "show a preview window")
	fs.BoolVar(&o.camera, "camera", false, "show a preview window")
	fs.BoolVar(&o.help, "h", false, "print help")
	fs.BoolVar(&o.help, "help", false, "print help")

	fs.StringVar(&o.configPath, "config", "", "JSON config file")
	fs.StringVar(&o.host, "host", config.DefaultDestinationHost, "destination host")
	fs.IntVar(&o.port, "port", config.DefaultDestinationPort, "destination port")
	fs.IntVar(&o.device, "device", 0, "camera index")
	fs.Float64Var(&o.fps, "fps", 0, "maximum capture rate, 0 for unlimited")
	fs.IntVar(&o.maxPacket, "max-packet", config.DefaultMaxPacket, "datagram size when probing is off")
	fs.BoolVar(&o.noProbe, "no-probe", false, "skip the maximum packet size probe")
	fs.StringVar(&o.devDir, "dev", "", "replay the images in this directory")
	fs.StringVar(&o.record, "record", "", "pcap file to record datagrams to")
	fs.StringVar(&o.dbPath, "db", "", "SQLite session database")
	fs.StringVar(&o.listen, "listen", "", "debug HTTP listen address")
	return fs
}

// parseArgs parses flags that may appear before, between or after the
// positional device names.
func parseArgs(args []string) (*options, error) {
	o := &options{set: map[string]bool{}}
	fs := newFlagSet(o)

	rest := args
	for {
		if err := fs.Parse(rest); err != nil {
			return nil, err
		}
		rest = fs.Args()
		if len(rest) == 0 {
			break
		}
		o.devices = append(o.devices, rest[0])
		rest = rest[1:]
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// loadConfig reads the optional config file and applies explicit flags on top.
func loadConfig(o *options) (*config.StreamConfig, error) {
	cfg := config.EmptyStreamConfig()
	if o.configPath != "" {
		var err error
		cfg, err = config.LoadStreamConfig(o.configPath)
		if err != nil {
			return nil, err
		}
	}

	if o.set["host"] {
		cfg.DestinationHost = &o.host
	}
	if o.set["port"] {
		cfg.DestinationPort = &o.port
	}
	if o.set["device"] {
		cfg.CameraDevice = &o.device
	}
	if o.set["fps"] {
		cfg.MaxFPS = &o.fps
	}
	if o.set["max-packet"] {
		cfg.MaxPacket = &o.maxPacket
	}
	if o.noProbe {
		probe := false
		cfg.ProbeMaxPacket = &probe
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolveScreenSize picks the configured size, then the first device named
// on the command line, then the default.
func resolveScreenSize(cfg *config.StreamConfig, devices []string) (display.ScreenSize, string) {
	if w, h, ok := cfg.GetScreenSize(); ok {
		return display.ScreenSize{Width: w, Height: h}, "config"
	}
	d, _ := display.DeviceFor(devices)
	return d.Size, d.Name
}

func openSource(cfg *config.StreamConfig, devDir string) (camera.Source, error) {
	if devDir != "" {
		var interval time.Duration
		if fps := cfg.GetMaxFPS(); fps > 0 {
			interval = time.Duration(float64(time.Second) / fps)
		}
		return camera.NewDirSource(devDir, interval)
	}
	return openCamera(cfg.GetCameraDevice())
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n%s", err, helpText)
		os.Exit(2)
	}
	if opts.help {
		fmt.Print(helpText)
		os.Exit(0)
	}

	fmt.Println(version.Banner("cambridge"))
	if opts.verbose {
		monitoring.SetVerbose(true)
		fmt.Println(" ~ verbose mode ~ ")
	}
	if opts.camera {
		fmt.Println(" ~ camera mode ~ ")
	}

	if err := run(opts); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
	log.Printf("Graceful shutdown complete")
}

// run streams until interrupted or the source fails.
func run(opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("Checking the screen size of iOS Simulator...")
	size, deviceName := resolveScreenSize(cfg, opts.devices)
	fmt.Printf("Screen Size: %s\n", size)

	compression, err := frame.ParseCompression(cfg.GetPNGCompression())
	if err != nil {
		return fmt.Errorf("invalid png compression: %w", err)
	}
	processor, err := frame.NewProcessor(frame.Options{
		Size:        size,
		ScaleToFill: cfg.GetScaleToFill(),
		Compression: compression,
	})
	if err != nil {
		return fmt.Errorf("failed to create frame processor: %w", err)
	}

	fmt.Println("\nIf you need some help, use command '-h'.\n\nChecking your environment...")
	conn, err := network.NewPacketConn()
	if err != nil {
		return fmt.Errorf("failed to open UDP socket: %w", err)
	}
	defer conn.Close()
	if n := cfg.GetSendBuffer(); n > 0 {
		if err := conn.SetWriteBuffer(n); err != nil {
			log.Printf("failed to set send buffer to %d bytes: %v", n, err)
		}
	}
	dst, err := network.ResolveDestination(cfg.GetDestinationHost(), cfg.GetDestinationPort())
	if err != nil {
		return fmt.Errorf("invalid destination: %w", err)
	}

	maxPacket := cfg.GetMaxPacket()
	if cfg.GetProbeMaxPacket() {
		maxPacket = network.ProbeMaxPacket(conn, dst, cfg.GetProbeMin(), cfg.GetProbeMax())
	}
	fmt.Printf("The maximum length of data that can be sent over UDP is %d bytes.\n", maxPacket)

	stats := monitor.NewStreamStats()

	senderConfig := network.ChunkSenderConfig{
		Conn:        conn,
		Destination: dst,
		MaxPacket:   maxPacket,
		Stats:       stats,
	}
	if opts.record != "" {
		recorder, err := network.NewRecorder(opts.record)
		if err != nil {
			return fmt.Errorf("failed to create recording: %w", err)
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				log.Printf("failed to close recording: %v", err)
				return
			}
			log.Printf("recorded %d datagrams to %s", recorder.Packets(), opts.record)
		}()
		senderConfig.Tap = recorder
		log.Printf("recording datagrams to %s", opts.record)
	}
	sender, err := network.NewChunkSender(senderConfig)
	if err != nil {
		return fmt.Errorf("failed to create sender: %w", err)
	}

	var database *db.DB
	if opts.dbPath != "" {
		database, err = db.NewDB(opts.dbPath)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()
	}

	source, err := openSource(cfg, opts.devDir)
	if err != nil {
		return err
	}
	log.Printf("capturing from %s", source)

	streamConfig := stream.Config{
		Source:        source,
		Sender:        sender,
		Processor:     processor,
		Stats:         stats,
		MaxFPS:        cfg.GetMaxFPS(),
		StatsInterval: cfg.GetStatsInterval(),
		Session: db.Session{
			Destination:  dst.String(),
			Device:       deviceName,
			ScreenWidth:  size.Width,
			ScreenHeight: size.Height,
			MaxPacket:    maxPacket,
		},
	}
	if database != nil {
		streamConfig.Store = database
	}
	if opts.camera {
		preview, closePreview, err := openPreview("cambridge")
		if err != nil {
			source.Close()
			return err
		}
		defer closePreview()
		streamConfig.Preview = preview
	}
	streamer, err := stream.New(streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create streamer: %w", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.listen != "" {
		mux := http.NewServeMux()
		stats.AttachAdminRoutes(mux, func() map[string]any {
			return map[string]any{
				"version":     version.Version,
				"source":      source.String(),
				"destination": dst.String(),
				"max_packet":  maxPacket,
				"screen_size": size.String(),
				"session_id":  streamer.SessionID(),
			}
		})
		if database != nil {
			database.AttachAdminRoutes(mux)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveDebug(ctx, opts.listen, mux)
		}()
	}

	fmt.Println("\nRunning...")
	// the preview window needs the main goroutine, so the loop runs here
	runErr := streamer.Run(ctx)
	if opts.devDir == "" {
		fmt.Println("Camera released.")
	}

	stop()
	wg.Wait()

	return runErr
}

// serveDebug serves mux on addr until ctx is cancelled.
func serveDebug(ctx context.Context, addr string, mux *http.ServeMux) {
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start debug server: %v", err)
		}
	}()
	log.Printf("debug pages on http://%s/debug/", addr)

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}
