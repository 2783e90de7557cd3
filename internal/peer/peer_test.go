package peer

import (
	"net/netip"
	"testing"
	"time"

	"wgtun/internal/ids"
	"wgtun/internal/tai64n"
	"wgtun/internal/transport"
)

func newTransport(t *testing.T) *transport.Transport {
	t.Helper()
	self, _ := ids.New()
	other, _ := ids.New()
	var k1, k2 [32]byte
	tr, err := transport.New(self, other, true, k1, k2, time.Now())
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}
	return tr
}

func TestUpdateEndpointIdempotent(t *testing.T) {
	s := New(Info{}, netip.AddrPort{})
	addr := netip.MustParseAddrPort("192.0.2.1:51820")

	if !s.UpdateEndpoint(addr) {
		t.Fatalf("first update to a new address should report changed")
	}
	if s.UpdateEndpoint(addr) {
		t.Fatalf("repeating the same address must be a no-op")
	}

	other := netip.MustParseAddrPort("192.0.2.2:51820")
	if !s.UpdateEndpoint(other) {
		t.Fatalf("updating to a different address should report changed")
	}
}

func TestAcceptTimestampMonotonic(t *testing.T) {
	s := New(Info{}, netip.AddrPort{})
	base := time.Unix(1700000000, 0)
	first := tai64n.From(base)
	second := tai64n.From(base.Add(time.Second))

	if !s.AcceptTimestamp(first) {
		t.Fatalf("first timestamp should be accepted")
	}
	if s.AcceptTimestamp(first) {
		t.Fatalf("a non-increasing timestamp must be rejected")
	}
	if !s.AcceptTimestamp(second) {
		t.Fatalf("a strictly later timestamp should be accepted")
	}
}

func TestRotateInKeepsAtMostTwoTransports(t *testing.T) {
	s := New(Info{}, netip.AddrPort{})

	t1 := newTransport(t)
	if _, evicted := s.RotateIn(t1); evicted {
		t.Fatalf("rotating into an empty state should not evict anything")
	}
	primary, secondary := s.Transports()
	if primary != t1 || secondary != nil {
		t.Fatalf("expected primary=t1, secondary=nil")
	}

	t2 := newTransport(t)
	if _, evicted := s.RotateIn(t2); evicted {
		t.Fatalf("rotating with an empty secondary should not evict anything")
	}
	primary, secondary = s.Transports()
	if primary != t2 || secondary != t1 {
		t.Fatalf("expected primary=t2, secondary=t1")
	}

	t3 := newTransport(t)
	evictedID, ok := s.RotateIn(t3)
	if !ok || evictedID != t1.SelfID {
		t.Fatalf("rotating a third transport in should evict the original secondary (t1)")
	}
	primary, secondary = s.Transports()
	if primary != t3 || secondary != t2 {
		t.Fatalf("expected primary=t3, secondary=t2")
	}
}

func TestBeginAndClearHandshake(t *testing.T) {
	s := New(Info{}, netip.AddrPort{})
	id, _ := ids.New()
	h := &HandshakeAttempt{SelfID: id}

	if !s.BeginHandshake(h) {
		t.Fatalf("starting the first handshake should succeed")
	}
	other := &HandshakeAttempt{SelfID: id}
	if s.BeginHandshake(other) {
		t.Fatalf("starting a second concurrent handshake should fail")
	}

	otherID, _ := ids.New()
	s.ClearHandshake(otherID)
	if s.Handshake() == nil {
		t.Fatalf("clearing with a stale id must not remove the current handshake")
	}

	s.ClearHandshake(id)
	if s.Handshake() != nil {
		t.Fatalf("clearing with the matching id must remove the handshake")
	}
}
