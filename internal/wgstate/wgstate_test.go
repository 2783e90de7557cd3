package wgstate

import (
	"net/netip"
	"testing"

	"wgtun/internal/ids"
	"wgtun/internal/peer"
)

func TestAddPeerAndRouteLookup(t *testing.T) {
	s := New(Info{})
	info := peer.Info{AllowedIPs: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/24")}}
	st := peer.New(info, netip.AddrPort{})
	s.AddPeer(st)

	got := s.RouteLookup(netip.MustParseAddr("10.0.0.5"))
	if got != st {
		t.Fatalf("expected route lookup to find the registered peer")
	}

	if _, ok := s.PeerByPublicKey(info.PublicKey); !ok {
		t.Fatalf("expected to find peer by public key")
	}
}

func TestBindUnbindID(t *testing.T) {
	s := New(Info{})
	st := peer.New(peer.Info{}, netip.AddrPort{})
	id, _ := ids.New()

	s.BindID(id, st)
	got, ok := s.PeerByID(id)
	if !ok || got != st {
		t.Fatalf("expected to find peer by id")
	}

	other := peer.New(peer.Info{}, netip.AddrPort{})
	s.UnbindID(id, other)
	if _, ok := s.PeerByID(id); !ok {
		t.Fatalf("unbind with a mismatched owner must not remove the mapping")
	}

	s.UnbindID(id, st)
	if _, ok := s.PeerByID(id); ok {
		t.Fatalf("unbind with the matching owner must remove the mapping")
	}
}

func TestSweepIDMapRemovesStale(t *testing.T) {
	s := New(Info{})
	st := peer.New(peer.Info{}, netip.AddrPort{})
	id, _ := ids.New()
	s.BindID(id, st) // st never claims this id in LiveSelfIDs

	if n := s.SweepIDMap(); n != 1 {
		t.Fatalf("expected sweep to remove 1 stale entry, removed %d", n)
	}
	if _, ok := s.PeerByID(id); ok {
		t.Fatalf("stale id should have been removed")
	}
}
