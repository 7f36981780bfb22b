package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical stream defaults file.
const DefaultConfigPath = "config/stream.defaults.json"

// Built-in defaults used by the Get* methods when a field is unset.
const (
	DefaultDestinationHost = "127.0.0.1"
	DefaultDestinationPort = 5005
	DefaultMaxPacket       = 9216
	DefaultProbeMin        = 9216
	DefaultProbeMax        = 100000
	DefaultStatsInterval   = time.Minute
)

// StreamConfig holds the streamer settings. Every field is optional; command
// line flags override whatever the file sets.
type StreamConfig struct {
	// Destination
	DestinationHost *string `json:"destination_host,omitempty"`
	DestinationPort *int    `json:"destination_port,omitempty"`

	// Datagram size
	MaxPacket      *int  `json:"max_packet,omitempty"`
	ProbeMaxPacket *bool `json:"probe_max_packet,omitempty"`
	ProbeMin       *int  `json:"probe_min,omitempty"`
	ProbeMax       *int  `json:"probe_max,omitempty"`
	SendBuffer     *int  `json:"send_buffer,omitempty"`

	// Frames
	ScreenWidth    *int     `json:"screen_width,omitempty"`
	ScreenHeight   *int     `json:"screen_height,omitempty"`
	CameraDevice   *int     `json:"camera_device,omitempty"`
	PNGCompression *string  `json:"png_compression,omitempty"` // default, speed, best or none
	ScaleToFill    *bool    `json:"scale_to_fill,omitempty"`
	MaxFPS         *float64 `json:"max_fps,omitempty"`

	// Reporting
	StatsInterval *string `json:"stats_interval,omitempty"` // duration string like "1m"
}

// Helper functions to create pointers
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }

// EmptyStreamConfig returns a StreamConfig with all fields set to nil.
func EmptyStreamConfig() *StreamConfig {
	return &StreamConfig{}
}

// DefaultStreamConfig returns a StreamConfig with every field set to its
// built-in default. Screen size stays unset so the device table decides.
func DefaultStreamConfig() *StreamConfig {
	return &StreamConfig{
		DestinationHost: ptrString(DefaultDestinationHost),
		DestinationPort: ptrInt(DefaultDestinationPort),
		MaxPacket:       ptrInt(DefaultMaxPacket),
		ProbeMaxPacket:  ptrBool(true),
		ProbeMin:        ptrInt(DefaultProbeMin),
		ProbeMax:        ptrInt(DefaultProbeMax),
		SendBuffer:      ptrInt(0),
		CameraDevice:    ptrInt(0),
		PNGCompression:  ptrString("default"),
		ScaleToFill:     ptrBool(false),
		MaxFPS:          ptrFloat64(0),
		StatsInterval:   ptrString("1m"),
	}
}

// LoadStreamConfig loads a StreamConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file fall back to the Get* defaults, so
// partial configs are safe.
func LoadStreamConfig(path string) (*StreamConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyStreamConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *StreamConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/*
	}
	for _, path := range candidates {
		if cfg, err := LoadStreamConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

// Validate checks that the configuration values are valid.
func (c *StreamConfig) Validate() error {
	if c.DestinationHost != nil && strings.TrimSpace(*c.DestinationHost) == "" {
		return fmt.Errorf("destination_host must not be empty")
	}
	if c.DestinationPort != nil && !validPort(*c.DestinationPort) {
		return fmt.Errorf("destination_port must be between 1 and 65535, got %d", *c.DestinationPort)
	}
	if c.MaxPacket != nil && *c.MaxPacket <= 0 {
		return fmt.Errorf("max_packet must be positive, got %d", *c.MaxPacket)
	}
	if c.ProbeMin != nil && *c.ProbeMin <= 0 {
		return fmt.Errorf("probe_min must be positive, got %d", *c.ProbeMin)
	}
	if c.GetProbeMax() <= c.GetProbeMin() {
		return fmt.Errorf("probe_max (%d) must be greater than probe_min (%d)", c.GetProbeMax(), c.GetProbeMin())
	}
	if c.SendBuffer != nil && *c.SendBuffer < 0 {
		return fmt.Errorf("send_buffer must be non-negative, got %d", *c.SendBuffer)
	}
	if c.ScreenWidth != nil && *c.ScreenWidth <= 0 {
		return fmt.Errorf("screen_width must be positive, got %d", *c.ScreenWidth)
	}
	if c.ScreenHeight != nil && *c.ScreenHeight <= 0 {
		return fmt.Errorf("screen_height must be positive, got %d", *c.ScreenHeight)
	}
	if (c.ScreenWidth == nil) != (c.ScreenHeight == nil) {
		return fmt.Errorf("screen_width and screen_height must be set together")
	}
	if c.CameraDevice != nil && *c.CameraDevice < 0 {
		return fmt.Errorf("camera_device must be non-negative, got %d", *c.CameraDevice)
	}
	if c.PNGCompression != nil {
		switch strings.ToLower(*c.PNGCompression) {
		case "", "default", "speed", "best", "none":
		default:
			return fmt.Errorf("png_compression must be one of default, speed, best, none; got %q", *c.PNGCompression)
		}
	}
	if c.MaxFPS != nil && *c.MaxFPS < 0 {
		return fmt.Errorf("max_fps must be non-negative, got %f", *c.MaxFPS)
	}
	if c.StatsInterval != nil && *c.StatsInterval != "" {
		d, err := time.ParseDuration(*c.StatsInterval)
		if err != nil {
			return fmt.Errorf("invalid stats_interval '%s': %w", *c.StatsInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("stats_interval must be positive, got %s", d)
		}
	}
	return nil
}

// GetDestinationHost returns the destination_host value or the default.
func (c *StreamConfig) GetDestinationHost() string {
	if c.DestinationHost == nil {
		return DefaultDestinationHost
	}
	return *c.DestinationHost
}

// GetDestinationPort returns the destination_port value or the default.
func (c *StreamConfig) GetDestinationPort() int {
	if c.DestinationPort == nil {
		return DefaultDestinationPort
	}
	return *c.DestinationPort
}

// GetMaxPacket returns the max_packet value or the default.
func (c *StreamConfig) GetMaxPacket() int {
	if c.MaxPacket == nil {
		return DefaultMaxPacket
	}
	return *c.MaxPacket
}

// GetProbeMaxPacket returns the probe_max_packet value or the default.
func (c *StreamConfig) GetProbeMaxPacket() bool {
	if c.ProbeMaxPacket == nil {
		return true
	}
	return *c.ProbeMaxPacket
}

// GetProbeMin returns the probe_min value or the default.
func (c *StreamConfig) GetProbeMin() int {
	if c.ProbeMin == nil {
		return DefaultProbeMin
	}
	return *c.ProbeMin
}

// GetProbeMax returns the probe_max value or the default.
func (c *StreamConfig) GetProbeMax() int {
	if c.ProbeMax == nil {
		return DefaultProbeMax
	}
	return *c.ProbeMax
}

// GetSendBuffer returns the send_buffer value or the default (OS default).
func (c *StreamConfig) GetSendBuffer() int {
	if c.SendBuffer == nil {
		return 0
	}
	return *c.SendBuffer
}

// GetScreenSize returns the configured screen size and whether it was set.
func (c *StreamConfig) GetScreenSize() (width, height int, ok bool) {
	if c.ScreenWidth == nil || c.ScreenHeight == nil {
		return 0, 0, false
	}
	return *c.ScreenWidth, *c.ScreenHeight, true
}

// GetCameraDevice returns the camera_device value or the default.
func (c *StreamConfig) GetCameraDevice() int {
	if c.CameraDevice == nil {
		return 0
	}
	return *c.CameraDevice
}

// GetPNGCompression returns the png_compression value or the default.
func (c *StreamConfig) GetPNGCompression() string {
	if c.PNGCompression == nil || *c.PNGCompression == "" {
		return "default"
	}
	return strings.ToLower(*c.PNGCompression)
}

// GetScaleToFill returns the scale_to_fill value or the default.
func (c *StreamConfig) GetScaleToFill() bool {
	if c.ScaleToFill == nil {
		return false
	}
	return *c.ScaleToFill
}

// GetMaxFPS returns the max_fps value or the default (unlimited).
func (c *StreamConfig) GetMaxFPS() float64 {
	if c.MaxFPS == nil {
		return 0
	}
	return *c.MaxFPS
}

// GetStatsInterval parses and returns the StatsInterval as a time.Duration.
func (c *StreamConfig) GetStatsInterval() time.Duration {
	if c.StatsInterval == nil || *c.StatsInterval == "" {
		return DefaultStatsInterval
	}
	d, err := time.ParseDuration(*c.StatsInterval)
	if err != nil || d <= 0 {
		return DefaultStatsInterval
	}
	return d
}
