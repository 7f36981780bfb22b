package network

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
)

// Delimiter is the single byte sent as its own datagram ahead of every frame.
// A receiver treats a one-byte datagram holding it as the end of the
// previous frame.
const Delimiter byte = '.'

// DefaultMaxPacket is the chunk size used when the probe is disabled or finds
// no limit.
const DefaultMaxPacket = 9216

// ErrInvalidMaxPacket is returned for a chunk size below one byte.
var ErrInvalidMaxPacket = errors.New("max packet size must be positive")

var delimiterDatagram = []byte{Delimiter}

// SenderStats receives datagram accounting from ChunkSender.
type SenderStats interface {
	AddDatagram(bytes int)
	AddSendError()
}

// PacketTap observes every datagram that was sent successfully.
type PacketTap interface {
	Record(payload []byte, src, dst *net.UDPAddr) error
}

// ChunkCount returns how many datagrams a payload of n bytes needs.
func ChunkCount(n, maxPacket int) int {
	if n <= 0 || maxPacket <= 0 {
		return 0
	}
	return (n + maxPacket - 1) / maxPacket
}

// Chunks splits payload into consecutive slices of at most maxPacket bytes.
// The slices share payload's backing array.
func Chunks(payload []byte, maxPacket int) ([][]byte, error) {
	if maxPacket <= 0 {
		return nil, ErrInvalidMaxPacket
	}
	chunks := make([][]byte, 0, ChunkCount(len(payload), maxPacket))
	for start := 0; start < len(payload); start += maxPacket {
		end := start + maxPacket
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[start:end])
	}
	return chunks, nil
}

// ChunkSender streams frames to a fixed destination as a delimiter datagram
// followed by fixed-size chunks. There is no acknowledgement or retry.
type ChunkSender struct {
	mu        sync.Mutex
	conn      PacketConn
	dst       *net.UDPAddr
	maxPacket int
	stats     SenderStats
	tap       PacketTap
	tapFailed bool
}

// ChunkSenderConfig contains configuration options for the sender.
type ChunkSenderConfig struct {
	Conn        PacketConn
	Destination *net.UDPAddr
	MaxPacket   int
	Stats       SenderStats
	Tap         PacketTap
}

// NewChunkSender creates a sender writing through conn.
func NewChunkSender(config ChunkSenderConfig) (*ChunkSender, error) {
	if config.Conn == nil {
		return nil, fmt.Errorf("chunk sender needs a connection")
	}
	if config.Destination == nil {
		return nil, fmt.Errorf("chunk sender needs a destination")
	}
	maxPacket := config.MaxPacket
	if maxPacket == 0 {
		maxPacket = DefaultMaxPacket
	}
	if maxPacket < 0 {
		return nil, ErrInvalidMaxPacket
	}
	stats := config.Stats
	if stats == nil {
		stats = noopSenderStats{}
	}
	return &ChunkSender{
		conn:      config.Conn,
		dst:       config.Destination,
		maxPacket: maxPacket,
		stats:     stats,
		tap:       config.Tap,
	}, nil
}

// ResolveDestination resolves host and port into a UDP address.
func ResolveDestination(host string, port int) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination address: %w", err)
	}
	return addr, nil
}

// Destination returns the address frames are sent to.
func (s *ChunkSender) Destination() *net.UDPAddr {
	return s.dst
}

// MaxPacket returns the current chunk size.
func (s *ChunkSender) MaxPacket() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPacket
}

// SetMaxPacket changes the chunk size used for later frames.
func (s *ChunkSender) SetMaxPacket(n int) error {
	if n <= 0 {
		return ErrInvalidMaxPacket
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxPacket = n
	return nil
}

// SendFrame sends the delimiter and then payload in chunks. The first failed
// write aborts the frame and is returned; datagrams already sent are not
// recalled.
func (s *ChunkSender) SendFrame(payload []byte) (datagrams int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(delimiterDatagram); err != nil {
		return 0, fmt.Errorf("failed to send delimiter: %w", err)
	}
	datagrams = 1

	chunks, err := Chunks(payload, s.maxPacket)
	if err != nil {
		return datagrams, err
	}
	for i, chunk := range chunks {
		if err := s.write(chunk); err != nil {
			return datagrams, fmt.Errorf("failed to send chunk %d/%d: %w", i+1, len(chunks), err)
		}
		datagrams++
	}
	return datagrams, nil
}

// Flush sends a lone delimiter so the receiver closes the last frame.
func (s *ChunkSender) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.write(delimiterDatagram); err != nil {
		return fmt.Errorf("failed to send delimiter: %w", err)
	}
	return nil
}

func (s *ChunkSender) write(b []byte) error {
	if _, err := s.conn.WriteToUDP(b, s.dst); err != nil {
		s.stats.AddSendError()
		return err
	}
	s.stats.AddDatagram(len(b))
	if s.tap != nil && !s.tapFailed {
		src, _ := s.conn.LocalAddr().(*net.UDPAddr)
		if err := s.tap.Record(b, src, s.dst); err != nil {
			// a broken recording must not stop the stream
			s.tapFailed = true
			log.Printf("recording disabled after error: %v", err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (s *ChunkSender) Close() error {
	return s.conn.Close()
}

type noopSenderStats struct{}

func (noopSenderStats) AddDatagram(int) {}
func (noopSenderStats) AddSendError()   {}
