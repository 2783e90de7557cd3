// Package transport implements the per-direction-pair encrypted session:
// send/recv AEAD keys, counters, timers, and the anti-replay window that
// gate every transport-message send and receive.
package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"wgtun/internal/ids"
	"wgtun/internal/mem"
	"wgtun/internal/replay"
	"wgtun/internal/wgconst"
)

// ErrCounterExhausted is returned by Encrypt once the send counter has
// reached RejectAfterMessages; the transport is effectively dead.
var ErrCounterExhausted = fmt.Errorf("transport: send counter exhausted")

// ErrTooShort, ErrBadHeader, ErrTooOld, ErrCounterExceeded, and
// ErrReplayed are the Decrypt failure modes, each a transient per-packet
// error that must be logged and dropped, never propagated.
var (
	ErrTooShort        = fmt.Errorf("transport: message shorter than header+tag")
	ErrBadHeader       = fmt.Errorf("transport: bad transport header prefix")
	ErrTooOld          = fmt.Errorf("transport: session older than RejectAfterTime")
	ErrCounterExceeded = fmt.Errorf("transport: counter at or past RejectAfterMessages")
	ErrReplayed        = fmt.Errorf("transport: counter rejected by anti-replay window")
	ErrDecryptFailed   = fmt.Errorf("transport: AEAD decryption failed")
)

// Transport is one established direction-pair session. It is immutable
// after construction apart from its counters and timestamps, each guarded
// by its own lock so sending and receiving never block one another.
type Transport struct {
	SelfID      ids.Id
	PeerID      ids.Id
	IsInitiator bool

	created time.Time

	sendAEAD cipher
	recvAEAD cipher

	sendCounter atomic.Uint64
	txBytes     atomic.Uint64
	rxBytes     atomic.Uint64

	lastSendMu sync.Mutex
	lastSend   time.Time

	recvMu     sync.Mutex
	lastRecv   time.Time
	antiReplay replay.Window
}

type cipher interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// New constructs a Transport from a completed handshake's derived keys.
// The AEAD construction takes its own copy of each key; New then zeroes
// the copies it was passed by value and never retains the raw bytes. The
// caller's arrays are not touched.
func New(selfID, peerID ids.Id, isInitiator bool, sendKey, recvKey [32]byte, now time.Time) (*Transport, error) {
	sendAEAD, err := chacha20poly1305.New(sendKey[:])
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	recvAEAD, err := chacha20poly1305.New(recvKey[:])
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	mem.ZeroBytes(sendKey[:])
	mem.ZeroBytes(recvKey[:])

	return &Transport{
		SelfID:      selfID,
		PeerID:      peerID,
		IsInitiator: isInitiator,
		created:     now,
		sendAEAD:    sendAEAD,
		recvAEAD:    recvAEAD,
	}, nil
}

func counterNonce(counter uint64) [chacha20poly1305.NonceSize]byte {
	var nonce [chacha20poly1305.NonceSize]byte
	nonce[4] = byte(counter)
	nonce[5] = byte(counter >> 8)
	nonce[6] = byte(counter >> 16)
	nonce[7] = byte(counter >> 24)
	nonce[8] = byte(counter >> 32)
	nonce[9] = byte(counter >> 40)
	nonce[10] = byte(counter >> 48)
	nonce[11] = byte(counter >> 56)
	return nonce
}

// Encrypt builds a complete transport-message datagram: the 16-byte header
// (type=4, 3 zero bytes, peer id, little-endian counter) followed by the
// AEAD-sealed plaintext.
func (t *Transport) Encrypt(plaintext []byte) ([]byte, error) {
	counter := t.sendCounter.Add(1) - 1
	if counter >= wgconst.RejectAfterMessages {
		t.sendCounter.Store(wgconst.RejectAfterMessages)
		return nil, ErrCounterExhausted
	}

	out := make([]byte, wgconst.MessageTransportHeaderSize, wgconst.MessageTransportHeaderSize+len(plaintext)+chacha20poly1305.Overhead)
	out[0] = wgconst.MessageTypeTransport
	copy(out[4:8], t.PeerID[:])
	for i := 0; i < 8; i++ {
		out[8+i] = byte(counter >> (8 * i))
	}

	nonce := counterNonce(counter)
	out = t.sendAEAD.Seal(out, nonce[:], plaintext, nil)
	t.txBytes.Add(uint64(len(plaintext)))

	t.lastSendMu.Lock()
	t.lastSend = time.Now()
	t.lastSendMu.Unlock()

	return out, nil
}

// Decrypt validates and opens an inbound transport datagram. On AEAD
// failure the anti-replay window is left untouched, per the requirement
// that a forged packet must never be able to consume a legitimate
// counter's replay slot.
func (t *Transport) Decrypt(msg []byte) ([]byte, error) {
	if len(msg) < wgconst.MessageTransportMinSize {
		return nil, ErrTooShort
	}
	if msg[0] != wgconst.MessageTypeTransport || msg[1] != 0 || msg[2] != 0 || msg[3] != 0 {
		return nil, ErrBadHeader
	}
	if time.Since(t.created) >= wgconst.RejectAfterTime {
		return nil, ErrTooOld
	}

	var counter uint64
	for i := 0; i < 8; i++ {
		counter |= uint64(msg[8+i]) << (8 * i)
	}
	if counter >= wgconst.RejectAfterMessages {
		return nil, ErrCounterExceeded
	}

	nonce := counterNonce(counter)
	plaintext, err := t.recvAEAD.Open(nil, nonce[:], msg[wgconst.MessageTransportHeaderSize:], nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}

	t.recvMu.Lock()
	ok := t.antiReplay.CheckAndUpdate(counter)
	if ok {
		t.lastRecv = time.Now()
	}
	t.recvMu.Unlock()
	if !ok {
		return nil, ErrReplayed
	}
	t.rxBytes.Add(uint64(len(plaintext)))

	return plaintext, nil
}

// Bytes returns the cumulative plaintext bytes sent and received over this
// transport, the counters a stats snapshot reports.
func (t *Transport) Bytes() (tx, rx uint64) {
	return t.txBytes.Load(), t.rxBytes.Load()
}

// Age returns how long ago this Transport was constructed.
func (t *Transport) Age() time.Duration { return time.Since(t.created) }

// HandshakeTime returns the moment this Transport's keys were derived,
// reported as "last handshake" in a stats snapshot.
func (t *Transport) HandshakeTime() time.Time { return t.created }

// LastSend and LastRecv report the most recent send/receive timestamps,
// used by the maintenance worker's keepalive and rekey predicates.
func (t *Transport) LastSend() time.Time {
	t.lastSendMu.Lock()
	defer t.lastSendMu.Unlock()
	return t.lastSend
}

func (t *Transport) LastRecv() time.Time {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()
	return t.lastRecv
}

func (t *Transport) SendCounter() uint64 { return t.sendCounter.Load() }

// ShouldDelete reports whether this transport has aged past the point
// where it must be torn down.
func (t *Transport) ShouldDelete() bool {
	return t.Age() >= 3*wgconst.RejectAfterTime
}

// ShouldRekey reports whether a new handshake should be initiated to
// replace this transport, per the per-role aging and traffic rules.
func (t *Transport) ShouldRekey() bool {
	age := t.Age()
	if t.IsInitiator && age >= wgconst.RekeyAfterTime {
		return true
	}
	if !t.IsInitiator && age >= wgconst.RekeyAfterTime+2*wgconst.RekeyTimeout {
		return true
	}
	if t.SendCounter() >= wgconst.RekeyAfterMessages {
		return true
	}
	lastSend := t.LastSend()
	lastRecv := t.LastRecv()
	if !lastSend.IsZero() && lastSend.After(lastRecv) && time.Since(lastSend) > wgconst.KeepaliveTimeout+wgconst.RekeyTimeout {
		return true
	}
	return false
}

// ShouldKeepalive reports whether we owe the peer a passive keepalive: it
// has sent us something our silence hasn't yet acknowledged.
func (t *Transport) ShouldKeepalive() bool {
	lastRecv := t.LastRecv()
	if lastRecv.IsZero() {
		return false
	}
	lastSend := t.LastSend()
	if !lastRecv.After(lastSend) {
		return false
	}
	return lastRecv.Sub(lastSend) >= wgconst.KeepaliveTimeout
}
