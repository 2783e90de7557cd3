package ipparse

import (
	"net/netip"
	"testing"
)

func ipv4Packet(src, dst netip.Addr) []byte {
	p := make([]byte, ipv4HeaderMinLen)
	p[0] = 0x45
	copy(p[ipv4SrcOffset:ipv4SrcOffset+4], src.AsSlice())
	copy(p[ipv4DstOffset:ipv4DstOffset+4], dst.AsSlice())
	return p
}

func TestExtractIPv4(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")
	p := ipv4Packet(src, dst)

	if v := Version(p); v != 4 {
		t.Fatalf("version = %d, want 4", v)
	}
	gotSrc, ok := SourceAddr(p)
	if !ok || gotSrc != src {
		t.Fatalf("SourceAddr = %v, %v; want %v, true", gotSrc, ok, src)
	}
	gotDst, ok := DestAddr(p)
	if !ok || gotDst != dst {
		t.Fatalf("DestAddr = %v, %v; want %v, true", gotDst, ok, dst)
	}
}

func TestExtractTruncated(t *testing.T) {
	if _, ok := SourceAddr([]byte{0x45}); ok {
		t.Fatalf("truncated packet should not yield an address")
	}
	if v := Version(nil); v != 0 {
		t.Fatalf("empty packet should report version 0, got %d", v)
	}
}
