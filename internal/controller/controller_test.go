package controller

import (
	"net/netip"
	"sync"
	"testing"

	"wgtun/internal/ids"
	"wgtun/internal/logging"
	"wgtun/internal/noise"
	"wgtun/internal/peer"
	"wgtun/internal/transport"
	"wgtun/internal/udpsock"
	"wgtun/internal/wgconst"
	"wgtun/internal/wgstate"
)

type fakeSocket struct {
	mu    sync.Mutex
	local netip.AddrPort
	sent  []sentPacket
}

type sentPacket struct {
	to   netip.AddrPort
	data []byte
}

func (f *fakeSocket) ReadFromUDPAddrPort([]byte) (int, netip.AddrPort, error) {
	select {} // never called directly in these tests; dispatch is invoked by hand
}

func (f *fakeSocket) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), b...)
	f.sent = append(f.sent, sentPacket{to: addr, data: cp})
	return len(b), nil
}

func (f *fakeSocket) LocalAddrPort() netip.AddrPort { return f.local }
func (f *fakeSocket) Close() error                  { return nil }

func (f *fakeSocket) lastSent() sentPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type fakeTun struct {
	mu      sync.Mutex
	written [][]byte
}

func (f *fakeTun) Read([]byte) (int, error) { select {} }
func (f *fakeTun) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), p...))
	return len(p), nil
}
func (f *fakeTun) Name() (string, error) { return "fake0", nil }
func (f *fakeTun) Close() error          { return nil }

var _ udpsock.Socket = (*fakeSocket)(nil)

func mustPrivate(t *testing.T) noise.PrivateKey {
	t.Helper()
	sk, err := noise.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return sk
}

// buildIPv4Packet returns a minimal 20-byte-header IPv4 packet carrying
// payload, with src/dst set at the offsets ipparse reads.
func buildIPv4Packet(src, dst netip.Addr, payload []byte) []byte {
	pkt := make([]byte, 20+len(payload))
	pkt[0] = 0x45 // version 4, IHL 5
	copy(pkt[12:16], src.As4()[:])
	copy(pkt[16:20], dst.As4()[:])
	copy(pkt[20:], payload)
	return pkt
}

// TestHandleInitiationCompletesResponderSide drives a real initiation
// message through Controller.dispatch and checks that the responder
// completes the handshake and installs a transport.
func TestHandleInitiationCompletesResponderSide(t *testing.T) {
	aPriv := mustPrivate(t)
	aPub, _ := aPriv.Public()
	bPriv := mustPrivate(t)
	bPub, _ := bPriv.Public()

	bState := wgstate.New(wgstate.Info{PrivateKey: bPriv, PublicKey: bPub})
	peerA := peer.New(peer.Info{PublicKey: aPub, AllowedIPs: []netip.Prefix{netip.MustParsePrefix("10.0.0.1/32")}}, netip.AddrPort{})
	bState.AddPeer(peerA)

	sock := &fakeSocket{local: netip.MustParseAddrPort("127.0.0.1:51820")}
	tun := &fakeTun{}
	log := logging.New(6) // logrus.TraceLevel; the level does not affect these assertions

	c, err := New(bState, sock, tun, log, Config{InterfaceName: "wg0", UDPWorkers: 1}, wgconst.CookieValidTime, noise.DefaultLoadThreshold)
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}

	selfID, _ := ids.New()
	body, h, err := noise.CreateInitiation(aPriv, bPub, [32]byte{}, selfID)
	if err != nil {
		t.Fatalf("failed to create initiation: %v", err)
	}
	full, err := noise.AppendMACs(body, bPub, nil)
	if err != nil {
		t.Fatalf("failed to append macs: %v", err)
	}

	src := netip.MustParseAddrPort("192.0.2.10:51820")
	c.dispatch(src, full)

	if len(sock.sent) != 1 {
		t.Fatalf("expected exactly one response sent, got %d", len(sock.sent))
	}
	resp := sock.lastSent()
	if resp.data[0] != wgconst.MessageTypeResponse {
		t.Fatalf("expected a response message, got type %d", resp.data[0])
	}

	if err := noise.ConsumeResponse(h, resp.data[:wgconst.MessageResponseSize-32]); err != nil {
		t.Fatalf("initiator-side consume of the response failed: %v", err)
	}
	aSend, aRecv, isInit, err := noise.DeriveTransportKeys(h)
	if err != nil {
		t.Fatalf("failed to derive initiator transport keys: %v", err)
	}
	if !isInit {
		t.Fatalf("expected initiator role on the A side")
	}

	primary, _ := peerA.Transports()
	if primary == nil {
		t.Fatalf("expected responder to have installed a primary transport")
	}

	aTransport, err := transport.New(selfID, primary.SelfID, true, aSend, aRecv, primary.LastSend())
	if err != nil {
		t.Fatalf("failed to build initiator-side transport: %v", err)
	}

	plaintext := buildIPv4Packet(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2"), []byte("hello peer"))
	encrypted, err := aTransport.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("failed to encrypt test payload: %v", err)
	}

	c.dispatch(src, encrypted)

	tun.mu.Lock()
	defer tun.mu.Unlock()
	if len(tun.written) != 1 {
		t.Fatalf("expected exactly one packet written to tun, got %d", len(tun.written))
	}
	if string(tun.written[0]) != string(plaintext) {
		t.Fatalf("expected decrypted payload %q, got %q", plaintext, tun.written[0])
	}
}

// TestHandleTransportDropsSpoofedSource checks the reverse-path filter: a
// transport packet whose inner source IP does not longest-prefix-match to
// the peer that sent it must be dropped, never written to tun.
func TestHandleTransportDropsSpoofedSource(t *testing.T) {
	aPriv := mustPrivate(t)
	aPub, _ := aPriv.Public()
	bPriv := mustPrivate(t)
	bPub, _ := bPriv.Public()

	bState := wgstate.New(wgstate.Info{PrivateKey: bPriv, PublicKey: bPub})
	peerA := peer.New(peer.Info{PublicKey: aPub, AllowedIPs: []netip.Prefix{netip.MustParsePrefix("10.0.0.1/32")}}, netip.AddrPort{})
	bState.AddPeer(peerA)

	sock := &fakeSocket{local: netip.MustParseAddrPort("127.0.0.1:51820")}
	tun := &fakeTun{}
	log := logging.New(6)

	c, err := New(bState, sock, tun, log, Config{InterfaceName: "wg0", UDPWorkers: 1}, wgconst.CookieValidTime, noise.DefaultLoadThreshold)
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}

	selfID, _ := ids.New()
	body, h, err := noise.CreateInitiation(aPriv, bPub, [32]byte{}, selfID)
	if err != nil {
		t.Fatalf("failed to create initiation: %v", err)
	}
	full, err := noise.AppendMACs(body, bPub, nil)
	if err != nil {
		t.Fatalf("failed to append macs: %v", err)
	}

	src := netip.MustParseAddrPort("192.0.2.10:51820")
	c.dispatch(src, full)

	resp := sock.lastSent()
	if err := noise.ConsumeResponse(h, resp.data[:wgconst.MessageResponseSize-32]); err != nil {
		t.Fatalf("initiator-side consume of the response failed: %v", err)
	}
	aSend, aRecv, _, err := noise.DeriveTransportKeys(h)
	if err != nil {
		t.Fatalf("failed to derive initiator transport keys: %v", err)
	}

	primary, _ := peerA.Transports()
	if primary == nil {
		t.Fatalf("expected responder to have installed a primary transport")
	}

	aTransport, err := transport.New(selfID, primary.SelfID, true, aSend, aRecv, primary.LastSend())
	if err != nil {
		t.Fatalf("failed to build initiator-side transport: %v", err)
	}

	// Inner source 10.0.0.99 does not belong to peerA's allowed IPs
	// (only 10.0.0.1/32 does), so it must not longest-prefix-match back
	// to peerA and the packet must be dropped.
	spoofed := buildIPv4Packet(netip.MustParseAddr("10.0.0.99"), netip.MustParseAddr("10.0.0.2"), []byte("spoofed"))
	encrypted, err := aTransport.Encrypt(spoofed)
	if err != nil {
		t.Fatalf("failed to encrypt spoofed payload: %v", err)
	}

	c.dispatch(src, encrypted)

	tun.mu.Lock()
	defer tun.mu.Unlock()
	if len(tun.written) != 0 {
		t.Fatalf("expected spoofed packet to be dropped, got %d packets written to tun", len(tun.written))
	}
}

// TestDispatchDropsBadMAC1 checks that an initiation with a forged MAC1
// never reaches ConsumeInitiation (no response is sent).
func TestDispatchDropsBadMAC1(t *testing.T) {
	bPriv := mustPrivate(t)
	bPub, _ := bPriv.Public()
	bState := wgstate.New(wgstate.Info{PrivateKey: bPriv, PublicKey: bPub})

	sock := &fakeSocket{local: netip.MustParseAddrPort("127.0.0.1:51820")}
	tun := &fakeTun{}
	log := logging.New(6)
	c, err := New(bState, sock, tun, log, Config{InterfaceName: "wg0", UDPWorkers: 1}, wgconst.CookieValidTime, noise.DefaultLoadThreshold)
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}

	msg := make([]byte, wgconst.MessageInitiationSize)
	msg[0] = wgconst.MessageTypeInitiation
	c.dispatch(netip.MustParseAddrPort("192.0.2.10:51820"), msg)

	if len(sock.sent) != 0 {
		t.Fatalf("expected no response for a message with an invalid MAC1, got %d", len(sock.sent))
	}
}
