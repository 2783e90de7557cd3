// Package wgstate holds the single root of shared state: interface
// configuration plus the four global maps (by public key, by session id,
// and the two routing tables) every worker looks data up through.
package wgstate

import (
	"net/netip"
	"sync"

	"wgtun/internal/ids"
	"wgtun/internal/noise"
	"wgtun/internal/peer"
	"wgtun/internal/routing"
)

// Info is the interface's own identity: its static key pair and an
// optional pre-shared key applied to every peer's handshake.
type Info struct {
	PrivateKey   noise.PrivateKey
	PublicKey    noise.PublicKey
	PresharedKey [32]byte
	ListenPort   uint16
}

// State is the process-wide root. Each map is independently guarded by a
// reader-writer lock; readers vastly outnumber writers, and writers only
// touch the maps at well-defined points (session birth/death, startup
// population). PeerState instances are shared by reference across all four
// maps and carry their own lock for their internal fields.
type State struct {
	Info Info

	pubkeyMu  sync.RWMutex
	pubkeyMap map[noise.PublicKey]*peer.State

	idMu  sync.RWMutex
	idMap map[ids.Id]*peer.State

	RT4 *routing.Table
	RT6 *routing.Table
}

// New constructs an empty State for the given interface identity.
func New(info Info) *State {
	return &State{
		Info:      info,
		pubkeyMap: make(map[noise.PublicKey]*peer.State),
		idMap:     make(map[ids.Id]*peer.State),
		RT4:       routing.New(),
		RT6:       routing.New(),
	}
}

// AddPeer registers a newly configured peer in the pubkey map and
// populates the routing tables from its allowed IPs. Called only during
// startup; pubkeyMap is never written to again afterward.
func (s *State) AddPeer(st *peer.State) {
	info := st.Info()

	s.pubkeyMu.Lock()
	s.pubkeyMap[info.PublicKey] = st
	s.pubkeyMu.Unlock()

	for _, prefix := range info.AllowedIPs {
		addr := prefix.Addr()
		switch {
		case addr.Is4() || addr.Is4In6():
			s.RT4.Add(prefix, st)
		default:
			s.RT6.Add(prefix, st)
		}
	}
}

// PeerByPublicKey looks up a peer by its static public key.
func (s *State) PeerByPublicKey(pk noise.PublicKey) (*peer.State, bool) {
	s.pubkeyMu.RLock()
	defer s.pubkeyMu.RUnlock()
	st, ok := s.pubkeyMap[pk]
	return st, ok
}

// PeerByID looks up a peer by a self_id the peer currently claims.
func (s *State) PeerByID(id ids.Id) (*peer.State, bool) {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	st, ok := s.idMap[id]
	return st, ok
}

// BindID inserts (or overwrites, tie-break most-recent-wins) an id→peer
// mapping.
func (s *State) BindID(id ids.Id, st *peer.State) {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	s.idMap[id] = st
}

// UnbindID removes an id→peer mapping only if it still points at st,
// avoiding a stale removal racing a newer allocation of the same id value.
func (s *State) UnbindID(id ids.Id, st *peer.State) {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	if s.idMap[id] == st {
		delete(s.idMap, id)
	}
}

// AllPeers returns every configured peer, used by the maintenance loop.
func (s *State) AllPeers() []*peer.State {
	s.pubkeyMu.RLock()
	defer s.pubkeyMu.RUnlock()
	out := make([]*peer.State, 0, len(s.pubkeyMap))
	for _, st := range s.pubkeyMap {
		out = append(out, st)
	}
	return out
}

// SweepIDMap removes any id_map entry whose peer no longer claims that id
// in its handshake/primary/secondary slots, repairing leaks left by
// rotation or expiry races. Returns the count removed.
func (s *State) SweepIDMap() int {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	removed := 0
	for id, st := range s.idMap {
		live := false
		for _, l := range st.LiveSelfIDs() {
			if l == id {
				live = true
				break
			}
		}
		if !live {
			delete(s.idMap, id)
			removed++
		}
	}
	return removed
}

// RouteLookup resolves addr to a peer via the longest-prefix-match table
// for its address family.
func (s *State) RouteLookup(addr netip.Addr) *peer.State {
	addr = addr.Unmap()
	if addr.Is4() {
		return s.RT4.LongestMatch(addr)
	}
	return s.RT6.LongestMatch(addr)
}
