// Package ipparse extracts version, source, and destination addresses from
// a raw inner IP packet read off the TUN device.
package ipparse

import "net/netip"

const (
	v4 = 4
	v6 = 6

	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40

	ipv4SrcOffset = 12
	ipv4DstOffset = 16
	ipv6SrcOffset = 8
	ipv6DstOffset = 24
)

// Version reports the IP version byte (4 or 6) of a packet, or 0 if the
// packet is empty.
func Version(packet []byte) uint8 {
	if len(packet) < 1 {
		return 0
	}
	return packet[0] >> 4
}

// SourceAddr extracts the packet's source address.
func SourceAddr(packet []byte) (netip.Addr, bool) {
	return extractByOffsets(packet, ipv4SrcOffset, ipv6SrcOffset)
}

// DestAddr extracts the packet's destination address.
func DestAddr(packet []byte) (netip.Addr, bool) {
	return extractByOffsets(packet, ipv4DstOffset, ipv6DstOffset)
}

func extractByOffsets(packet []byte, ipv4Offset, ipv6Offset int) (netip.Addr, bool) {
	switch Version(packet) {
	case v4:
		if len(packet) < ipv4HeaderMinLen {
			return netip.Addr{}, false
		}
		return netip.AddrFromSlice(packet[ipv4Offset : ipv4Offset+4])
	case v6:
		if len(packet) < ipv6HeaderLen {
			return netip.Addr{}, false
		}
		return netip.AddrFromSlice(packet[ipv6Offset : ipv6Offset+16])
	default:
		return netip.Addr{}, false
	}
}
