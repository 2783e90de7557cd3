// Package controller runs the worker pool that drives a tunnel: UDP
// receive, TUN receive, per-attempt handshake retry, and periodic
// maintenance, wired together the way the teacher's adapters are composed
// by a single DI root rather than a framework.
package controller

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"wgtun/internal/ids"
	"wgtun/internal/ipparse"
	"wgtun/internal/logging"
	"wgtun/internal/noise"
	"wgtun/internal/peer"
	"wgtun/internal/scriptrunner"
	"wgtun/internal/tundev"
	"wgtun/internal/transport"
	"wgtun/internal/udpsock"
	"wgtun/internal/wgconst"
	"wgtun/internal/wgstate"
)

// Config holds the runtime knobs the controller needs beyond the shared
// State: how many UDP readers to run, and the interface lifecycle scripts.
type Config struct {
	InterfaceName string
	UDPWorkers    int
	OnUp          string
	OnDown        string
}

// Controller owns the worker pool for one running tunnel.
type Controller struct {
	state  *wgstate.State
	sock   udpsock.Socket
	tun    tundev.Device
	log    logging.Logger
	cfg    Config
	cookie *noise.CookieManager
	load   *noise.LoadMonitor
}

// New wires a Controller from its collaborators. cookieRotate is the
// CookieManager secret-rotation period (wgconst.CookieValidTime in
// production); loadThreshold is forwarded to noise.NewLoadMonitor.
func New(state *wgstate.State, sock udpsock.Socket, tun tundev.Device, log logging.Logger, cfg Config, cookieRotate time.Duration, loadThreshold int64) (*Controller, error) {
	cm, err := noise.NewCookieManager(cookieRotate)
	if err != nil {
		return nil, fmt.Errorf("controller: failed to create cookie manager: %w", err)
	}
	if cfg.UDPWorkers <= 0 {
		cfg.UDPWorkers = 1
	}
	return &Controller{
		state:  state,
		sock:   sock,
		tun:    tun,
		log:    log,
		cfg:    cfg,
		cookie: cm,
		load:   noise.NewLoadMonitor(loadThreshold),
	}, nil
}

// Run starts every worker and blocks until ctx is cancelled or a worker
// reports a fatal error. It runs the on_up script before starting and
// on_down after every worker has exited.
func (c *Controller) Run(ctx context.Context) error {
	if err := scriptrunner.Run(c.cfg.OnUp, c.cfg.InterfaceName); err != nil {
		return fmt.Errorf("controller: on_up script failed: %w", err)
	}
	defer func() {
		if err := scriptrunner.Run(c.cfg.OnDown, c.cfg.InterfaceName); err != nil {
			c.log.Warnf("on_down script failed: %v", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.UDPWorkers; i++ {
		g.Go(func() error { return c.udpWorker(gctx) })
	}
	g.Go(func() error { return c.tunWorker(gctx) })
	g.Go(func() error { return c.maintenanceWorker(gctx) })
	g.Go(func() error {
		// The UDP and TUN readers block in Read; closing the socket and
		// device makes those reads fail so the workers can return.
		<-gctx.Done()
		_ = c.sock.Close()
		_ = c.tun.Close()
		return nil
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		// The caller cancelled ctx; workers unwinding in response produced
		// this error incidentally, not as the cause of shutdown.
		return nil
	}
	return err
}

func (c *Controller) udpWorker(ctx context.Context) error {
	buf := make([]byte, 65535)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, src, err := c.sock.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("controller: udp read failed: %w", err)
		}
		c.dispatch(src, append([]byte(nil), buf[:n]...))
	}
}

func (c *Controller) dispatch(src netip.AddrPort, msg []byte) {
	if len(msg) < 4 {
		return
	}
	switch msg[0] {
	case wgconst.MessageTypeInitiation:
		c.handleInitiation(src, msg)
	case wgconst.MessageTypeResponse:
		c.routeToHandshake(getReceiverAt(msg, 8), peer.HandshakeDatagram{Source: src, Bytes: msg})
	case wgconst.MessageTypeCookieReply:
		c.routeToHandshake(getReceiverAt(msg, 4), peer.HandshakeDatagram{Source: src, Bytes: msg})
	case wgconst.MessageTypeTransport:
		c.handleTransport(src, msg)
	}
}

func getReceiverAt(msg []byte, offset int) ids.Id {
	if len(msg) < offset+4 {
		return ids.Id{}
	}
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(msg[offset+i]) << (8 * i)
	}
	return ids.FromUint32(v)
}

func (c *Controller) routeToHandshake(receiver ids.Id, dg peer.HandshakeDatagram) {
	st, ok := c.state.PeerByID(receiver)
	if !ok {
		return
	}
	attempt := st.Handshake()
	if attempt == nil || attempt.SelfID != receiver {
		return
	}
	select {
	case attempt.Mailbox <- dg:
	default:
	}
}

func (c *Controller) handleInitiation(src netip.AddrPort, msg []byte) {
	if len(msg) != wgconst.MessageInitiationSize {
		return
	}
	if !noise.VerifyMAC1(msg, c.state.Info.PublicKey) {
		return
	}
	c.load.RecordAttempt()
	if c.load.UnderLoad() {
		cookie := c.cookie.Value(src.Addr())
		if !noise.VerifyMAC2(msg, cookie) {
			c.sendCookieReply(src, msg)
			return
		}
	}

	h, remoteStatic, ts, err := noise.ConsumeInitiation(c.state.Info.PrivateKey, c.state.Info.PublicKey, msg[:wgconst.MessageInitiationSize-32])
	if err != nil {
		c.log.Debugf("dropping initiation from %s: %v", src, err)
		return
	}

	st, ok := c.state.PeerByPublicKey(remoteStatic)
	if !ok {
		return
	}
	if !st.AcceptTimestamp(ts) {
		c.log.Debugf("dropping replayed/stale initiation from %s", src)
		return
	}

	h.SetPresharedKey(c.state.Info.PresharedKey)
	selfID, err := ids.New()
	if err != nil {
		c.log.Errorf("failed to allocate session id: %v", err)
		return
	}
	resp, err := noise.CreateResponse(h, selfID)
	if err != nil {
		c.log.Errorf("failed to create handshake response: %v", err)
		return
	}
	cookie, hasCookie := st.Cookie()
	var cookiePtr *[16]byte
	if hasCookie {
		cookiePtr = &cookie
	}
	full, err := noise.AppendMACs(resp, remoteStatic, cookiePtr)
	if err != nil {
		c.log.Errorf("failed to append MACs to response: %v", err)
		return
	}
	st.SetLastMAC1(noise.MAC1Of(full))

	if _, err := c.sock.WriteToUDPAddrPort(full, src); err != nil {
		c.log.Warnf("failed to send handshake response to %s: %v", src, err)
		return
	}

	sendKey, recvKey, isInitiator, err := noise.DeriveTransportKeys(h)
	if err != nil {
		c.log.Errorf("failed to derive transport keys: %v", err)
		return
	}
	t, err := transport.New(selfID, h.RemoteIndex(), isInitiator, sendKey, recvKey, time.Now())
	if err != nil {
		c.log.Errorf("failed to construct transport: %v", err)
		return
	}
	if evicted, ok := st.RotateIn(t); ok {
		c.state.UnbindID(evicted, st)
	}
	c.state.BindID(selfID, st)
	st.UpdateEndpoint(src)
	c.log.Printf("completed handshake (responder) with %s", src)
}

func (c *Controller) sendCookieReply(src netip.AddrPort, msg []byte) {
	receiver := getReceiverAt(msg, 4)
	var rid [4]byte
	v := receiver.Uint32()
	rid[0], rid[1], rid[2], rid[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	reply, err := c.cookie.CreateCookieReply(src.Addr(), rid, noise.MAC1Of(msg), c.state.Info.PublicKey)
	if err != nil {
		c.log.Warnf("failed to build cookie reply: %v", err)
		return
	}
	if _, err := c.sock.WriteToUDPAddrPort(reply, src); err != nil {
		c.log.Warnf("failed to send cookie reply to %s: %v", src, err)
	}
}

func (c *Controller) handleTransport(src netip.AddrPort, msg []byte) {
	receiver := getReceiverAt(msg, 4)
	st, ok := c.state.PeerByID(receiver)
	if !ok {
		return
	}
	primary, secondary := st.Transports()
	var t *transport.Transport
	switch {
	case primary != nil && primary.SelfID == receiver:
		t = primary
	case secondary != nil && secondary.SelfID == receiver:
		t = secondary
	default:
		return
	}

	plaintext, err := t.Decrypt(msg)
	if err != nil {
		c.log.Debugf("dropping transport message from %s: %v", src, err)
		return
	}
	st.UpdateEndpoint(src)
	if len(plaintext) == 0 {
		return // bare keepalive
	}
	srcAddr, ok := ipparse.SourceAddr(plaintext)
	if !ok {
		c.log.Debugf("dropping unparseable decapsulated packet from %s", src)
		return
	}
	if c.state.RouteLookup(srcAddr) != st {
		c.log.Debugf("dropping packet from %s: inner source %s does not route to sending peer", src, srcAddr)
		return
	}
	if _, err := c.tun.Write(plaintext); err != nil {
		c.log.Warnf("failed to write decapsulated packet to tun: %v", err)
	}
}

func (c *Controller) tunWorker(ctx context.Context) error {
	buf := make([]byte, wgconst.MaxUDPPayload+64)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := c.tun.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("controller: tun read failed: %w", err)
		}
		if n == 0 {
			continue
		}
		packet := buf[:n]
		dst, ok := ipparse.DestAddr(packet)
		if !ok {
			continue
		}
		st := c.state.RouteLookup(dst)
		if st == nil {
			continue
		}
		c.sendToPeer(st, packet)
	}
}

func (c *Controller) sendToPeer(st *peer.State, packet []byte) {
	primary, _ := st.Transports()
	if primary == nil {
		c.startHandshake(st)
		return
	}
	if primary.ShouldRekey() {
		c.startHandshake(st)
	}
	out, err := primary.Encrypt(packet)
	if err != nil {
		c.log.Debugf("dropping outbound packet: %v", err)
		return
	}
	endpoint := st.Endpoint()
	if !endpoint.IsValid() {
		return
	}
	if _, err := c.sock.WriteToUDPAddrPort(out, endpoint); err != nil {
		c.log.Warnf("failed to send transport message to %s: %v", endpoint, err)
	}
}

// startHandshake begins an initiator-side handshake attempt for st unless
// one is already in flight. It runs the retry/timeout loop in its own
// goroutine and returns immediately.
func (c *Controller) startHandshake(st *peer.State) {
	if st.Handshake() != nil {
		return
	}
	endpoint := st.Endpoint()
	if !endpoint.IsValid() {
		return
	}
	selfID, err := ids.New()
	if err != nil {
		c.log.Errorf("failed to allocate session id: %v", err)
		return
	}
	info := st.Info()
	body, h, err := noise.CreateInitiation(c.state.Info.PrivateKey, info.PublicKey, c.state.Info.PresharedKey, selfID)
	if err != nil {
		c.log.Errorf("failed to create initiation: %v", err)
		return
	}
	attempt := &peer.HandshakeAttempt{
		Noise:   h,
		SelfID:  selfID,
		Mailbox: make(chan peer.HandshakeDatagram, 4),
	}
	if !st.BeginHandshake(attempt) {
		return
	}
	c.state.BindID(selfID, st)
	go c.runHandshake(st, attempt, body, info.PublicKey)
}

// runHandshake drives the initiator retry cycle: send, wait up to
// RekeyTimeout for a response or cookie reply, retry until
// RekeyAttemptTime elapses.
func (c *Controller) runHandshake(st *peer.State, attempt *peer.HandshakeAttempt, initiationBody []byte, remoteStatic noise.PublicKey) {
	deadline := time.Now().Add(wgconst.RekeyAttemptTime)
	established := false
	defer func() {
		st.ClearHandshake(attempt.SelfID)
		if !established {
			// On success the id now belongs to the new primary transport
			// and must stay bound.
			c.state.UnbindID(attempt.SelfID, st)
		}
	}()

	body := initiationBody
	for time.Now().Before(deadline) {
		cookie, hasCookie := st.Cookie()
		var cookiePtr *[16]byte
		if hasCookie {
			cookiePtr = &cookie
		}
		full, err := noise.AppendMACs(body, remoteStatic, cookiePtr)
		if err != nil {
			c.log.Errorf("failed to append MACs to initiation: %v", err)
			return
		}
		st.SetLastMAC1(noise.MAC1Of(full))

		endpoint := st.Endpoint()
		if _, err := c.sock.WriteToUDPAddrPort(full, endpoint); err != nil {
			c.log.Warnf("failed to send initiation to %s: %v", endpoint, err)
			return
		}

		select {
		case dg := <-attempt.Mailbox:
			if dg.Bytes[0] == wgconst.MessageTypeCookieReply {
				cookie, err := noise.ConsumeCookieReply(dg.Bytes, st.LastMAC1(), remoteStatic)
				if err != nil {
					c.log.Debugf("bad cookie reply: %v", err)
					continue
				}
				st.SetCookie(cookie, wgconst.CookieValidTime)
				continue
			}
			if len(dg.Bytes) != wgconst.MessageResponseSize {
				continue
			}
			if !noise.VerifyMAC1(dg.Bytes, c.state.Info.PublicKey) {
				continue
			}
			if err := noise.ConsumeResponse(attempt.Noise, dg.Bytes[:wgconst.MessageResponseSize-32]); err != nil {
				c.log.Debugf("bad handshake response: %v", err)
				continue
			}
			sendKey, recvKey, isInitiator, err := noise.DeriveTransportKeys(attempt.Noise)
			if err != nil {
				c.log.Errorf("failed to derive transport keys: %v", err)
				return
			}
			t, err := transport.New(attempt.SelfID, attempt.Noise.RemoteIndex(), isInitiator, sendKey, recvKey, time.Now())
			if err != nil {
				c.log.Errorf("failed to construct transport: %v", err)
				return
			}
			if evicted, ok := st.RotateIn(t); ok {
				c.state.UnbindID(evicted, st)
			}
			established = true
			st.UpdateEndpoint(dg.Source)
			c.log.Printf("completed handshake (initiator) with %s", dg.Source)
			return
		case <-time.After(wgconst.RekeyTimeout):
		}
	}
	c.log.Warnf("handshake attempt to %s timed out", st.Endpoint())
}

func (c *Controller) maintenanceWorker(ctx context.Context) error {
	ticker := time.NewTicker(wgconst.MaintenanceTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.runMaintenance()
		}
	}
}

func (c *Controller) runMaintenance() {
	c.state.SweepIDMap()
	for _, st := range c.state.AllPeers() {
		for _, id := range st.ExpireSlots() {
			c.state.UnbindID(id, st)
		}
		primary, _ := st.Transports()
		if primary == nil {
			continue
		}
		if primary.ShouldKeepalive() {
			if out, err := primary.Encrypt(nil); err == nil {
				endpoint := st.Endpoint()
				if endpoint.IsValid() {
					_, _ = c.sock.WriteToUDPAddrPort(out, endpoint)
				}
			}
		}
		if kp := st.Info().PersistentKeepaliveInterval; kp > 0 {
			if time.Since(primary.LastSend()) >= kp {
				if out, err := primary.Encrypt(nil); err == nil {
					endpoint := st.Endpoint()
					if endpoint.IsValid() {
						_, _ = c.sock.WriteToUDPAddrPort(out, endpoint)
					}
				}
			}
		}
		if primary.ShouldRekey() {
			c.startHandshake(st)
		}
	}
}

