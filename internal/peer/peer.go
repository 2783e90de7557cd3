// Package peer holds per-peer configuration and the live state — endpoint,
// handshake, and transport slots — that the controller mutates under
// rotation, roaming, and aging.
package peer

import (
	"net/netip"
	"sync"
	"time"

	"wgtun/internal/ids"
	"wgtun/internal/noise"
	"wgtun/internal/tai64n"
	"wgtun/internal/transport"
)

// Info is the static (post-startup-immutable) configuration of a peer:
// its identity and the addresses it is authorised to carry.
type Info struct {
	PublicKey                   noise.PublicKey
	AllowedIPs                  []netip.Prefix
	PersistentKeepaliveInterval time.Duration
}

// HandshakeAttempt is the ephemeral state of one in-progress handshake.
// Mailbox receives (source address, response bytes) pairs delivered by the
// UDP worker to the handshake worker driving this attempt.
type HandshakeAttempt struct {
	Noise   *noise.Handshake
	SelfID  ids.Id
	Mailbox chan HandshakeDatagram
}

// HandshakeDatagram is one inbound response or cookie-reply datagram
// routed to an in-progress handshake.
type HandshakeDatagram struct {
	Source netip.AddrPort
	Bytes  []byte
}

// State is the live, mutable state owned by one peer: its config, endpoint,
// in-progress handshake, and up to two transports. All access beyond the
// atomic primitives in Transport itself is serialized by mu.
type State struct {
	mu sync.RWMutex

	info Info

	endpoint netip.AddrPort

	lastTimestamp tai64n.Timestamp

	cookie       *[16]byte
	cookieExpiry time.Time
	lastMAC1     [16]byte

	handshake *HandshakeAttempt

	primary   *transport.Transport
	secondary *transport.Transport
}

// New constructs a State for a configured peer, with an optional initial
// endpoint (absent if the peer has no static endpoint configured).
func New(info Info, initialEndpoint netip.AddrPort) *State {
	return &State{info: info, endpoint: initialEndpoint}
}

func (s *State) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Endpoint returns the address currently believed to reach this peer.
func (s *State) Endpoint() netip.AddrPort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoint
}

// UpdateEndpoint sets the peer's endpoint to addr if it differs from the
// current value, implementing roaming. It reports whether the endpoint
// actually changed, satisfying the idempotent-update property: receiving
// from the same address repeatedly must be a no-op.
func (s *State) UpdateEndpoint(addr netip.AddrPort) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endpoint == addr {
		return false
	}
	s.endpoint = addr
	return true
}

// LastTimestamp returns the TAI64N timestamp of the last accepted
// initiation from this peer, used for the monotonicity check.
func (s *State) LastTimestamp() tai64n.Timestamp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTimestamp
}

// AcceptTimestamp records ts as the newest accepted initiation timestamp,
// provided it is strictly newer than the one on file. It reports whether
// the timestamp was accepted.
func (s *State) AcceptTimestamp(ts tai64n.Timestamp) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ts.After(s.lastTimestamp) {
		return false
	}
	s.lastTimestamp = ts
	return true
}

// LastMAC1 returns the MAC1 this host most recently emitted to the peer,
// needed to decrypt a later cookie reply.
func (s *State) LastMAC1() [16]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastMAC1
}

// SetLastMAC1 records the MAC1 just emitted in an outbound handshake
// message.
func (s *State) SetLastMAC1(mac [16]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMAC1 = mac
}

// Cookie returns the peer's current cookie, if any and not expired.
func (s *State) Cookie() (cookie [16]byte, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cookie == nil || time.Now().After(s.cookieExpiry) {
		return [16]byte{}, false
	}
	return *s.cookie, true
}

// SetCookie stores a freshly received cookie with its validity window.
func (s *State) SetCookie(cookie [16]byte, validFor time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cookie
	s.cookie = &c
	s.cookieExpiry = time.Now().Add(validFor)
}

// Handshake returns the in-progress handshake attempt, if any.
func (s *State) Handshake() *HandshakeAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handshake
}

// BeginHandshake installs a new in-progress handshake, failing if one is
// already running (the controller must check Handshake() == nil under the
// same lock discipline before calling this in the general case; this
// method re-checks to stay safe under races).
func (s *State) BeginHandshake(h *HandshakeAttempt) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handshake != nil {
		return false
	}
	s.handshake = h
	return true
}

// ClearHandshake removes the in-progress handshake, if it is still the one
// identified by selfID (stale clears from a superseded attempt are no-ops).
func (s *State) ClearHandshake(selfID ids.Id) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handshake != nil && s.handshake.SelfID == selfID {
		s.handshake = nil
	}
}

// Transports returns the current primary and secondary transports.
func (s *State) Transports() (primary, secondary *transport.Transport) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.primary, s.secondary
}

// RotateIn installs t as the new primary transport: the old secondary (if
// any) is evicted, the old primary becomes the new secondary, and t
// becomes primary. It returns the self_id of any evicted transport so the
// caller can remove it from the global id map.
func (s *State) RotateIn(t *transport.Transport) (evicted ids.Id, evictedOK bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secondary != nil {
		evicted, evictedOK = s.secondary.SelfID, true
	}
	s.secondary = s.primary
	s.primary = t
	return evicted, evictedOK
}

// ExpireSlots drops primary/secondary transports that ShouldDelete reports
// as aged out, returning the self_ids removed so the caller can clean the
// global id map.
func (s *State) ExpireSlots() []ids.Id {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []ids.Id
	if s.primary != nil && s.primary.ShouldDelete() {
		removed = append(removed, s.primary.SelfID)
		s.primary = nil
	}
	if s.secondary != nil && s.secondary.ShouldDelete() {
		removed = append(removed, s.secondary.SelfID)
		s.secondary = nil
	}
	return removed
}

// LiveSelfIDs returns every self_id this PeerState currently claims across
// its handshake, primary, and secondary slots — the set the maintenance
// loop's id_map consistency sweep checks against.
func (s *State) LiveSelfIDs() []ids.Id {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ids.Id
	if s.handshake != nil {
		out = append(out, s.handshake.SelfID)
	}
	if s.primary != nil {
		out = append(out, s.primary.SelfID)
	}
	if s.secondary != nil {
		out = append(out, s.secondary.SelfID)
	}
	return out
}
