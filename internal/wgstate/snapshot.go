package wgstate

import (
	"net/netip"
	"time"

	"wgtun/internal/noise"
)

// PeerSnapshot is one peer's worth of UAPI-shaped status, the same fields
// "wg show" reports for a configured peer.
type PeerSnapshot struct {
	PublicKey           noise.PublicKey
	Endpoint            netip.AddrPort
	AllowedIPs          []netip.Prefix
	LastHandshake       time.Time
	TxBytes             uint64
	RxBytes             uint64
	PersistentKeepalive time.Duration
}

// Snapshot is the interface-wide status report.
type Snapshot struct {
	PublicKey  noise.PublicKey
	ListenPort uint16
	Peers      []PeerSnapshot
}

// Snapshot builds a point-in-time status report across every configured
// peer, the data backing the "stats" subcommand and a future UAPI "get".
func (s *State) Snapshot() Snapshot {
	out := Snapshot{PublicKey: s.Info.PublicKey, ListenPort: s.Info.ListenPort}
	for _, st := range s.AllPeers() {
		info := st.Info()
		ps := PeerSnapshot{
			PublicKey:           info.PublicKey,
			Endpoint:            st.Endpoint(),
			AllowedIPs:          info.AllowedIPs,
			PersistentKeepalive: info.PersistentKeepaliveInterval,
		}
		if primary, _ := st.Transports(); primary != nil {
			ps.LastHandshake = primary.HandshakeTime()
			ps.TxBytes, ps.RxBytes = primary.Bytes()
		}
		out.Peers = append(out.Peers, ps)
	}
	return out
}
