package network

import (
	"bytes"
	"log"
	"net"
)

// Probe bounds used when the configuration leaves them unset.
const (
	DefaultProbeMin = DefaultMaxPacket
	DefaultProbeMax = 100000
)

// ProbeMaxPacket finds the largest datagram size in [min, max) that conn can
// send to dst without a local error. Probe datagrams are filled with 'a' and
// really reach dst.
//
// If min itself fails the result is min-1. If nothing in the range fails the
// result is min. Sizes are bisected, so the answer matches a linear scan as
// long as the limit is a single threshold.
func ProbeMaxPacket(conn PacketConn, dst *net.UDPAddr, min, max int) int {
	if min <= 0 {
		min = 1
	}
	if max <= min {
		return min
	}

	buf := bytes.Repeat([]byte{'a'}, max-1)
	fits := func(n int) bool {
		_, err := conn.WriteToUDP(buf[:n], dst)
		if err != nil {
			log.Printf("probe: %d byte datagram failed: %v", n, err)
			return false
		}
		return true
	}

	if !fits(min) {
		return min - 1
	}
	if fits(max - 1) {
		return min
	}

	// fits(lo) holds and fits(hi) does not.
	lo, hi := min, max-1
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if fits(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}
