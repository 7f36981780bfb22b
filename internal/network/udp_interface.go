package network

import (
	"errors"
	"net"
	"sync"
	"syscall"
	"time"
)

// PacketConn defines the sending side of a UDP socket.
// This abstraction enables unit testing without real network connections.
type PacketConn interface {
	// WriteToUDP sends one datagram to addr.
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)

	// SetWriteBuffer sets the size of the operating system's send buffer.
	SetWriteBuffer(bytes int) error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr

	// Close closes the socket.
	Close() error
}

// UDPSocket defines the receiving side of a UDP socket.
type UDPSocket interface {
	// ReadFromUDP reads a UDP packet from the socket.
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)

	// SetReadBuffer sets the size of the operating system's receive buffer.
	SetReadBuffer(bytes int) error

	// SetReadDeadline sets the deadline for future Read calls.
	SetReadDeadline(t time.Time) error

	// Close closes the socket.
	Close() error

	// LocalAddr returns the local network address.
	LocalAddr() net.Addr
}

// NewPacketConn opens an unconnected UDP socket for sending. Unlike a
// connected socket, it does not surface ICMP port-unreachable errors from a
// receiver that is not running yet.
func NewPacketConn() (*net.UDPConn, error) {
	return net.ListenUDP("udp", nil)
}

// MockPacketConn implements PacketConn for testing.
type MockPacketConn struct {
	mu sync.Mutex

	// Writes records every datagram passed to WriteToUDP.
	Writes []MockDatagram
	// SizeLimit makes WriteToUDP fail with EMSGSIZE for larger datagrams.
	// Zero disables the limit.
	SizeLimit int
	// FailAfter makes WriteToUDP fail once this many datagrams were
	// written. Negative disables it.
	FailAfter int
	// WriteError is returned when FailAfter triggers.
	WriteError error
	// WriteBufferSize holds the value set by SetWriteBuffer.
	WriteBufferSize int
	// Closed indicates whether Close was called.
	Closed bool
	// LocalAddress is returned by LocalAddr.
	LocalAddress *net.UDPAddr
}

// MockDatagram is one recorded write.
type MockDatagram struct {
	Data []byte
	Addr *net.UDPAddr
}

// NewMockPacketConn creates a MockPacketConn without limits.
func NewMockPacketConn() *MockPacketConn {
	return &MockPacketConn{
		FailAfter: -1,
		LocalAddress: &net.UDPAddr{
			IP:   net.ParseIP("127.0.0.1"),
			Port: 50123,
		},
	}
}

// WriteToUDP records the datagram.
func (m *MockPacketConn) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return 0, net.ErrClosed
	}
	if m.SizeLimit > 0 && len(b) > m.SizeLimit {
		return 0, &net.OpError{Op: "write", Net: "udp", Err: syscall.EMSGSIZE}
	}
	if m.FailAfter >= 0 && len(m.Writes) >= m.FailAfter {
		err := m.WriteError
		if err == nil {
			err = errors.New("mock write failure")
		}
		return 0, err
	}
	data := make([]byte, len(b))
	copy(data, b)
	m.Writes = append(m.Writes, MockDatagram{Data: data, Addr: addr})
	return len(b), nil
}

// SetWriteBuffer records the buffer size.
func (m *MockPacketConn) SetWriteBuffer(bytes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteBufferSize = bytes
	return nil
}

// LocalAddr returns the mock local address.
func (m *MockPacketConn) LocalAddr() net.Addr {
	return m.LocalAddress
}

// Close marks the connection as closed.
func (m *MockPacketConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Datagrams returns a copy of the recorded payloads.
func (m *MockPacketConn) Datagrams() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.Writes))
	for i, w := range m.Writes {
		out[i] = w.Data
	}
	return out
}

// Reset forgets the recorded writes.
func (m *MockPacketConn) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes = nil
}

// MockUDPSocket implements UDPSocket for testing.
type MockUDPSocket struct {
	// Packets holds the packets to return from ReadFromUDP.
	Packets []MockDatagram
	// ReadIndex tracks the current position in Packets.
	ReadIndex int
	// Closed indicates whether Close was called.
	Closed bool
	// ReadBufferSize holds the value set by SetReadBuffer.
	ReadBufferSize int
	// ReadError is returned on the next ReadFromUDP call if set.
	ReadError error
	// LocalAddress is returned by LocalAddr.
	LocalAddress *net.UDPAddr
}

// NewMockUDPSocket creates a new MockUDPSocket with the given packets.
func NewMockUDPSocket(packets ...[]byte) *MockUDPSocket {
	m := &MockUDPSocket{
		LocalAddress: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5005},
	}
	src := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 50123}
	for _, p := range packets {
		m.Packets = append(m.Packets, MockDatagram{Data: p, Addr: src})
	}
	return m
}

// ReadFromUDP returns the next packet from the mock buffer.
func (m *MockUDPSocket) ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error) {
	if m.Closed {
		return 0, nil, net.ErrClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.ReadError = nil
		return 0, nil, err
	}
	if m.ReadIndex >= len(m.Packets) {
		// Simulate timeout when no more packets
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: &timeoutError{}}
	}
	pkt := m.Packets[m.ReadIndex]
	m.ReadIndex++
	n = copy(b, pkt.Data)
	return n, pkt.Addr, nil
}

// SetReadBuffer records the buffer size.
func (m *MockUDPSocket) SetReadBuffer(bytes int) error {
	m.ReadBufferSize = bytes
	return nil
}

// SetReadDeadline is a no-op.
func (m *MockUDPSocket) SetReadDeadline(t time.Time) error {
	return nil
}

// Close marks the socket as closed.
func (m *MockUDPSocket) Close() error {
	m.Closed = true
	return nil
}

// LocalAddr returns the mock local address.
func (m *MockUDPSocket) LocalAddr() net.Addr {
	return m.LocalAddress
}

// timeoutError implements net.Error for timeout simulation.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
