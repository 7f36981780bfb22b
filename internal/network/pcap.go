package network

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// pcapSnapLen is the libpcap default. It must exceed the largest UDP payload
// plus synthesised Ethernet, IPv6 and UDP headers.
const pcapSnapLen = 262144

var (
	recorderSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	recorderDstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Recorder writes sent datagrams to a pcap file so a session can be inspected
// in Wireshark or replayed with ReadPCAPFrames. Link, network and transport
// headers are synthesised from the socket addresses.
type Recorder struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	w       *pcapgo.Writer
	packets int
	now     func() time.Time
}

// NewRecorder creates path and writes the pcap file header.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create pcap file %s: %w", path, err)
	}
	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(pcapSnapLen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	log.Printf("Recording datagrams to %s", path)
	return &Recorder{file: f, buf: buf, w: w, now: time.Now}, nil
}

// Record appends one UDP datagram.
func (r *Recorder) Record(payload []byte, src, dst *net.UDPAddr) error {
	data, err := encapsulate(payload, src, dst)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return errors.New("recorder is closed")
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     r.now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := r.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("failed to write pcap packet: %w", err)
	}
	r.packets++
	return nil
}

// Packets returns how many datagrams were recorded.
func (r *Recorder) Packets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.packets
}

// Close flushes and closes the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	r.w = nil
	flushErr := r.buf.Flush()
	closeErr := r.file.Close()
	log.Printf("Recorded %d datagrams to %s", r.packets, r.file.Name())
	if flushErr != nil {
		return fmt.Errorf("failed to flush pcap file: %w", flushErr)
	}
	return closeErr
}

func encapsulate(payload []byte, src, dst *net.UDPAddr) ([]byte, error) {
	if dst == nil {
		return nil, errors.New("missing destination address")
	}
	var srcIP net.IP
	srcPort := 0
	if src != nil {
		srcIP = src.IP
		srcPort = src.Port
	}

	eth := &layers.Ethernet{SrcMAC: recorderSrcMAC, DstMAC: recorderDstMAC}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dst.Port),
	}

	var network gopacket.SerializableLayer
	if dst4 := dst.IP.To4(); dst4 != nil {
		src4 := srcIP.To4()
		if src4 == nil {
			src4 = net.IPv4zero.To4()
		}
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    src4,
			DstIP:    dst4,
		}
		eth.EthernetType = layers.EthernetTypeIPv4
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		network = ip
	} else {
		src6 := srcIP.To16()
		if src6 == nil || srcIP.To4() != nil {
			src6 = net.IPv6unspecified
		}
		ip := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolUDP,
			SrcIP:      src6,
			DstIP:      dst.IP.To16(),
		}
		eth.EthernetType = layers.EthernetTypeIPv6
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		network = ip
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, network, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("failed to serialise datagram: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadPCAPFrames replays a pcap recording through an Assembler and calls
// handler for every frame sent to udpPort. A zero port accepts all UDP
// traffic. Handler errors are logged and do not stop the replay. A frame
// still buffered at the end of the file is delivered as well.
func ReadPCAPFrames(ctx context.Context, path string, udpPort int, handler FrameHandler) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()

	r, err := pcapgo.NewReader(bufio.NewReader(f))
	if err != nil {
		return 0, fmt.Errorf("failed to read PCAP header: %w", err)
	}

	assembler := NewAssembler(DefaultMaxFrameSize)
	packetCount, frames := 0, 0
	deliver := func(frame []byte) {
		frames++
		if err := handler(frame); err != nil {
			log.Printf("Error handling PCAP frame %d: %v", frames, err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			log.Printf("PCAP reader stopping due to context cancellation (processed %d packets)", packetCount)
			return frames, err
		}

		data, _, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return frames, fmt.Errorf("failed to read PCAP packet %d: %w", packetCount+1, err)
		}
		packetCount++

		packet := gopacket.NewPacket(data, r.LinkType(), gopacket.Default)
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			continue
		}
		if udpPort != 0 && int(udp.DstPort) != udpPort {
			continue
		}

		if frame, ok := assembler.Push(udp.Payload); ok {
			deliver(frame)
		}
	}

	if frame, ok := assembler.Flush(); ok {
		deliver(frame)
	}
	log.Printf("PCAP file reading complete: %d packets, %d frames", packetCount, frames)
	return frames, nil
}
