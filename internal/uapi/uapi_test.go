package uapi

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wgtun/internal/noise"
	"wgtun/internal/wgstate"
)

func TestServeAndQueryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wg0.sock")

	var pub noise.PublicKey
	pub[0] = 0xAB

	snap := wgstate.Snapshot{
		PublicKey:  pub,
		ListenPort: 51820,
		Peers: []wgstate.PeerSnapshot{
			{PublicKey: pub, TxBytes: 10, RxBytes: 20, LastHandshake: time.Unix(1000, 0)},
		},
	}

	ln, err := Serve(path, func() wgstate.Snapshot { return snap })
	if err != nil {
		t.Fatalf("failed to serve: %v", err)
	}
	defer ln.Close()

	out, err := Query(path)
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}
	if !strings.Contains(out, "listen_port=51820") {
		t.Fatalf("expected listen_port in output, got %q", out)
	}
	if !strings.Contains(out, "tx_bytes=10") || !strings.Contains(out, "rx_bytes=20") {
		t.Fatalf("expected byte counters in output, got %q", out)
	}
	if !strings.Contains(out, "last_handshake_time_sec=1000") {
		t.Fatalf("expected handshake time in output, got %q", out)
	}
}
