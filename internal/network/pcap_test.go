package network

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordFrames(t *testing.T, path string, dst *net.UDPAddr, frames ...string) {
	t.Helper()
	rec, err := NewRecorder(path)
	require.NoError(t, err)

	s, err := NewChunkSender(ChunkSenderConfig{
		Conn:        NewMockPacketConn(),
		Destination: dst,
		MaxPacket:   4,
		Tap:         rec,
	})
	require.NoError(t, err)
	for _, f := range frames {
		_, err := s.SendFrame([]byte(f))
		require.NoError(t, err)
	}
	require.NoError(t, s.Flush())
	require.NoError(t, rec.Close())
}

func TestRecorder_WritesDecodablePackets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pcap")
	recordFrames(t, path, testDst, "hello")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())

	var payloads []string
	for {
		data, _, err := r.ReadPacketData()
		if err != nil {
			break
		}
		packet := gopacket.NewPacket(data, r.LinkType(), gopacket.Default)
		ip, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		require.True(t, ok, "expected an IPv4 layer")
		assert.True(t, ip.DstIP.Equal(testDst.IP))
		assert.True(t, ip.SrcIP.Equal(net.ParseIP("127.0.0.1")))

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		require.True(t, ok, "expected a UDP layer")
		assert.Equal(t, layers.UDPPort(5005), udp.DstPort)
		assert.Equal(t, layers.UDPPort(50123), udp.SrcPort)
		payloads = append(payloads, string(udp.Payload))
	}
	assert.Equal(t, []string{".", "hell", "o", "."}, payloads)
}

func TestRecorder_Packets(t *testing.T) {
	rec, err := NewRecorder(filepath.Join(t.TempDir(), "a.pcap"))
	require.NoError(t, err)
	require.NoError(t, rec.Record([]byte("x"), nil, testDst))
	assert.Equal(t, 1, rec.Packets())
	assert.Error(t, rec.Record([]byte("x"), nil, nil), "destination is required")

	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close(), "Close is idempotent")
	assert.Error(t, rec.Record([]byte("x"), nil, testDst))
}

func TestRecorder_IPv6(t *testing.T) {
	data, err := encapsulate([]byte("abc"), nil, &net.UDPAddr{IP: net.ParseIP("::1"), Port: 7000})
	require.NoError(t, err)

	packet := gopacket.NewPacket(data, layers.LinkTypeEthernet, gopacket.Default)
	ip, ok := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	require.True(t, ok, "expected an IPv6 layer")
	assert.True(t, ip.DstIP.Equal(net.ParseIP("::1")))
	udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
	require.True(t, ok)
	assert.Equal(t, "abc", string(udp.Payload))
}

func TestReadPCAPFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pcap")
	recordFrames(t, path, testDst, "first frame", "second")

	var got []string
	n, err := ReadPCAPFrames(context.Background(), path, 5005, func(frame []byte) error {
		got = append(got, string(frame))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"first frame", "second"}, got)

	// Another port matches nothing.
	n, err = ReadPCAPFrames(context.Background(), path, 6000, func([]byte) error {
		t.Error("no frame expected")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	// Handler errors do not stop the replay.
	calls := 0
	n, err = ReadPCAPFrames(context.Background(), path, 0, func([]byte) error {
		calls++
		return errors.New("bad frame")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, calls)
}

func TestReadPCAPFrames_MaxSizeDatagram(t *testing.T) {
	const maxUDPPayload = 65507
	path := filepath.Join(t.TempDir(), "large.pcap")
	rec, err := NewRecorder(path)
	require.NoError(t, err)

	payload := make([]byte, maxUDPPayload)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	src := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 50123}
	require.NoError(t, rec.Record([]byte{Delimiter}, src, testDst))
	require.NoError(t, rec.Record(payload, src, testDst))
	require.NoError(t, rec.Record([]byte{Delimiter}, src, testDst))
	require.NoError(t, rec.Close())

	var got [][]byte
	n, err := ReadPCAPFrames(context.Background(), path, 5005, func(frame []byte) error {
		got = append(got, append([]byte(nil), frame...))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0])
}

func TestReadPCAPFrames_Errors(t *testing.T) {
	_, err := ReadPCAPFrames(context.Background(), filepath.Join(t.TempDir(), "missing.pcap"), 0, nil)
	assert.Error(t, err)

	bogus := filepath.Join(t.TempDir(), "bogus.pcap")
	require.NoError(t, os.WriteFile(bogus, []byte("not a pcap"), 0o644))
	_, err = ReadPCAPFrames(context.Background(), bogus, 0, nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "session.pcap")
	recordFrames(t, path, testDst, "frame")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ReadPCAPFrames(ctx, path, 0, func([]byte) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
