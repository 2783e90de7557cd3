// Package routing implements the longest-prefix-match tables that resolve
// an inner IP address to the peer authorised to carry it.
package routing

import (
	"net/netip"
	"sort"
	"sync"

	"wgtun/internal/peer"
)

type entry struct {
	prefix netip.Prefix
	state  *peer.State
}

// Table is a longest-prefix-match table over a single address family. It
// is treated as immutable after startup population but remains guarded by
// a reader-writer lock to allow future reconfiguration without an API
// change.
type Table struct {
	mu      sync.RWMutex
	entries []entry // sorted by prefix length, descending
}

// New returns an empty Table.
func New() *Table {
	return &Table{}
}

// Add inserts a CIDR → peer association. Safe to call concurrently with
// LongestMatch, but callers should finish populating before traffic flows
// to avoid transient incomplete routing during startup.
func (t *Table) Add(prefix netip.Prefix, state *peer.State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry{prefix: prefix, state: state})
	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].prefix.Bits() > t.entries[j].prefix.Bits()
	})
}

// LongestMatch returns the peer whose allowed-IP entry most specifically
// contains addr, or nil if none matches.
func (t *Table) LongestMatch(addr netip.Addr) *peer.State {
	addr = addr.Unmap()
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if e.prefix.Contains(addr) {
			return e.state
		}
	}
	return nil
}
