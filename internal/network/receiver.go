package network

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// ReceiverStats collects receive-side statistics.
type ReceiverStats interface {
	AddDatagram(bytes int)
	AddFrame(bytes int)
	AddDropped()
	LogStats()
}

// FrameHandler is called with every reassembled frame. A returned error is
// logged and counted as a dropped frame.
type FrameHandler func(frame []byte) error

// DefaultMaxFrameSize bounds a single reassembled frame.
const DefaultMaxFrameSize = 64 << 20

// Receiver listens for the chunked frame stream and hands complete frames to
// a FrameHandler.
type Receiver struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	stats       ReceiverStats
	handler     FrameHandler
	assembler   *Assembler

	mu   sync.Mutex
	conn UDPSocket
}

// ReceiverConfig contains configuration options for the receiver.
type ReceiverConfig struct {
	Address      string
	RcvBuf       int
	LogInterval  time.Duration
	MaxFrameSize int
	Stats        ReceiverStats
	Handler      FrameHandler
	// Conn replaces the socket Start would open. Used by tests.
	Conn UDPSocket
}

// NewReceiver creates a receiver with the provided configuration.
func NewReceiver(config ReceiverConfig) *Receiver {
	var stats ReceiverStats = noopReceiverStats{}
	if config.Stats != nil {
		stats = config.Stats
	}
	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	maxFrame := config.MaxFrameSize
	if maxFrame == 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Receiver{
		address:     config.Address,
		rcvBuf:      config.RcvBuf,
		logInterval: logInterval,
		stats:       stats,
		handler:     config.Handler,
		assembler:   NewAssembler(maxFrame),
		conn:        config.Conn,
	}
}

type noopReceiverStats struct{}

func (noopReceiverStats) AddDatagram(int) {}
func (noopReceiverStats) AddFrame(int)    {}
func (noopReceiverStats) AddDropped()     {}
func (noopReceiverStats) LogStats()       {}

// Start receives datagrams until ctx is cancelled.
func (r *Receiver) Start(ctx context.Context) error {
	conn, err := r.open()
	if err != nil {
		return err
	}
	defer conn.Close()

	if r.rcvBuf > 0 {
		if err := conn.SetReadBuffer(r.rcvBuf); err != nil {
			log.Printf("Warning: Failed to set UDP receive buffer size to %d: %v", r.rcvBuf, err)
		}
	}
	log.Printf("UDP receiver started on %s", conn.LocalAddr())

	go r.startStatsLogging(ctx)

	// Datagrams above 64 KiB cannot exist on UDP/IPv4.
	buffer := make([]byte, 65536)

	for {
		select {
		case <-ctx.Done():
			log.Print("UDP receiver stopping due to context cancellation")
			return ctx.Err()
		default:
			// Set read deadline to allow checking context cancellation
			conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

			n, addr, err := conn.ReadFromUDP(buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("UDP read error: %v", err)
				continue
			}

			if err := r.handleDatagram(buffer[:n]); err != nil {
				log.Printf("Error handling frame from %v: %v", addr, err)
			}
		}
	}
}

func (r *Receiver) open() (UDPSocket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn, nil
	}
	addr, err := net.ResolveUDPAddr("udp", r.address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	r.conn = conn
	return conn, nil
}

// LocalAddr returns the bound address once Start has opened the socket.
func (r *Receiver) LocalAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

func (r *Receiver) handleDatagram(datagram []byte) error {
	r.stats.AddDatagram(len(datagram))
	before := r.assembler.Dropped()
	frame, ok := r.assembler.Push(datagram)
	if r.assembler.Dropped() != before {
		r.stats.AddDropped()
	}
	if !ok {
		return nil
	}
	r.stats.AddFrame(len(frame))
	if r.handler == nil {
		return nil
	}
	if err := r.handler(frame); err != nil {
		r.stats.AddDropped()
		return err
	}
	return nil
}

func (r *Receiver) startStatsLogging(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		r.stats.LogStats()
	}

	ticker := time.NewTicker(r.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.stats.LogStats()
		}
	}
}

// Close closes the socket.
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
