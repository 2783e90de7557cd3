// Package noise implements the WireGuard handshake: a Noise IK exchange
// hand-rolled over golang.org/x/crypto primitives rather than a generic
// Noise library, so that message sizes and field offsets match the wire
// format exactly (148/92/64-byte messages, the same layout wireguard-go
// produces).
package noise

import (
	"fmt"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"

	"wgtun/internal/ids"
	"wgtun/internal/tai64n"
)

const (
	// construction and identifier follow the text of the wire format this
	// package implements; construction is kept literally as named even
	// though a pre-shared key is also mixed in (see kdf3 step below).
	construction = "Noise_IK_25519_ChaChaPoly_BLAKE2s"
	identifier   = "WireGuard v1 zx2c4 Jason@zx2c4.com"

	labelMAC1   = "mac1----"
	labelCookie = "cookie--"
)

var (
	initialChainKey [blake2s.Size]byte
	initialHash     [blake2s.Size]byte
	zeroNonce       [chacha20poly1305.NonceSize]byte
)

func init() {
	initialChainKey = blake2s.Sum256([]byte(construction))
	initialHash = mixHashValue(initialChainKey, []byte(identifier))
}

func mixHashValue(h [blake2s.Size]byte, data []byte) [blake2s.Size]byte {
	buf := make([]byte, 0, blake2s.Size+len(data))
	buf = append(buf, h[:]...)
	buf = append(buf, data...)
	return blake2s.Sum256(buf)
}

func mixKeyValue(c [blake2s.Size]byte, data []byte) [blake2s.Size]byte {
	return kdf1(c[:], data)
}

// state tags a Handshake with where it is in the exchange, mirroring the
// state machine of the reference handshake engine.
type state int

const (
	stateZeroed state = iota
	stateInitiationCreated
	stateInitiationConsumed
	stateResponseCreated
	stateResponseConsumed
)

// Handshake is the opaque per-attempt symmetric state. It carries no
// synchronization of its own; callers (the handshake worker) own it
// exclusively for the attempt's lifetime.
type Handshake struct {
	state state

	hash     [blake2s.Size]byte
	chainKey [blake2s.Size]byte

	presharedKey [32]byte

	localStatic     PrivateKey
	localEphemeral  PrivateKey
	localIndex      ids.Id
	remoteIndex     ids.Id
	remoteStatic    PublicKey
	remoteEphemeral PublicKey

	lastTimestamp tai64n.Timestamp
}

// LocalIndex returns the self_id assigned to this handshake attempt.
func (h *Handshake) LocalIndex() ids.Id { return h.localIndex }

// SetPresharedKey attaches the interface's pre-shared key to a Handshake
// produced by ConsumeInitiation, which has no way to learn it on its own.
// Must be called before CreateResponse.
func (h *Handshake) SetPresharedKey(psk [32]byte) { h.presharedKey = psk }

// RemoteIndex returns the peer's self_id as learned from the exchange.
func (h *Handshake) RemoteIndex() ids.Id { return h.remoteIndex }

func (h *Handshake) mixHash(data []byte) { h.hash = mixHashValue(h.hash, data) }
func (h *Handshake) mixKey(data []byte)  { h.chainKey = mixKeyValue(h.chainKey, data) }

func seal(key [chacha20poly1305.KeySize]byte, dst, plaintext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("noise: %w", err)
	}
	return aead.Seal(dst, zeroNonce[:], plaintext, ad), nil
}

func open(key [chacha20poly1305.KeySize]byte, dst, ciphertext, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("noise: %w", err)
	}
	out, err := aead.Open(dst, zeroNonce[:], ciphertext, ad)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return out, nil
}

// CreateInitiation builds the first 116 bytes of the 148-byte initiation
// message (everything before MAC1/MAC2, which the caller appends via
// AppendMACs) and returns the
// in-progress Handshake that must be completed by ConsumeResponse.
func CreateInitiation(localStatic PrivateKey, remoteStatic PublicKey, psk [32]byte, selfID ids.Id) ([]byte, *Handshake, error) {
	h := &Handshake{
		hash:         initialHash,
		chainKey:     initialChainKey,
		remoteStatic: remoteStatic,
		presharedKey: psk,
		localIndex:   selfID,
		localStatic:  localStatic,
	}

	ephemeralSK, err := GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}
	h.localEphemeral = ephemeralSK
	ephemeralPK, err := ephemeralSK.Public()
	if err != nil {
		return nil, nil, err
	}

	h.mixHash(remoteStatic[:])

	msg := make([]byte, 116, 148)
	putU32(msg[0:4], 1)
	putU32(msg[4:8], selfID.Uint32())
	copy(msg[8:40], ephemeralPK[:])

	h.mixKey(ephemeralPK[:])
	h.mixHash(ephemeralPK[:])

	localStaticPK, err := localStatic.Public()
	if err != nil {
		return nil, nil, err
	}

	ss, err := ephemeralSK.SharedSecret(remoteStatic)
	if err != nil {
		return nil, nil, err
	}
	var key [chacha20poly1305.KeySize]byte
	t0, t1 := kdf2(h.chainKey[:], ss[:])
	h.chainKey, key = t0, t1
	sealed, err := seal(key, msg[40:40], localStaticPK[:], h.hash[:])
	if err != nil {
		return nil, nil, err
	}
	msg = msg[:40+len(sealed)]
	h.mixHash(sealed)

	ssStatic, err := localStatic.SharedSecret(remoteStatic)
	if err != nil {
		return nil, nil, err
	}
	t0, t1 = kdf2(h.chainKey[:], ssStatic[:])
	h.chainKey, key = t0, t1

	ts := tai64n.Now()
	sealedTS, err := seal(key, msg[88:88], ts[:], h.hash[:])
	if err != nil {
		return nil, nil, err
	}
	msg = msg[:88+len(sealedTS)]
	h.mixHash(sealedTS)

	h.state = stateInitiationCreated
	return msg, h, nil
}

// ConsumeInitiation validates and decrypts an inbound initiation message
// (116 bytes, MAC1/MAC2 already stripped by the caller). It returns the
// remote's static public key and the timestamp it carried; the caller is
// responsible for the monotonicity check against PeerState before trusting
// the result, since this function has no access to per-peer history.
func ConsumeInitiation(localStatic PrivateKey, localStaticPK PublicKey, msg []byte) (*Handshake, PublicKey, tai64n.Timestamp, error) {
	if len(msg) != 116 {
		return nil, PublicKey{}, tai64n.Timestamp{}, ErrMessageTooShort
	}
	if getU32(msg[0:4]) != 1 {
		return nil, PublicKey{}, tai64n.Timestamp{}, ErrWrongMessageType
	}

	senderIdx := ids.FromUint32(getU32(msg[4:8]))
	var ephemeral PublicKey
	copy(ephemeral[:], msg[8:40])

	hash := mixHashValue(initialHash, localStaticPK[:])
	hash = mixHashValue(hash, ephemeral[:])
	chainKey := mixKeyValue(initialChainKey, ephemeral[:])

	ss, err := localStatic.SharedSecret(ephemeral)
	if err != nil {
		return nil, PublicKey{}, tai64n.Timestamp{}, err
	}
	var key [chacha20poly1305.KeySize]byte
	t0, t1 := kdf2(chainKey[:], ss[:])
	chainKey, key = t0, t1

	var remoteStatic PublicKey
	decStatic, err := open(key, remoteStatic[:0], msg[40:88], hash[:])
	if err != nil {
		return nil, PublicKey{}, tai64n.Timestamp{}, err
	}
	copy(remoteStatic[:], decStatic)
	hash = mixHashValue(hash, msg[40:88])

	ssStatic, err := localStatic.SharedSecret(remoteStatic)
	if err != nil {
		return nil, PublicKey{}, tai64n.Timestamp{}, err
	}
	t0, t1 = kdf2(chainKey[:], ssStatic[:])
	chainKey, key = t0, t1

	var timestamp tai64n.Timestamp
	decTS, err := open(key, timestamp[:0], msg[88:116], hash[:])
	if err != nil {
		return nil, PublicKey{}, tai64n.Timestamp{}, err
	}
	copy(timestamp[:], decTS)
	hash = mixHashValue(hash, msg[88:116])

	h := &Handshake{
		state:           stateInitiationConsumed,
		hash:            hash,
		chainKey:        chainKey,
		remoteIndex:     senderIdx,
		remoteEphemeral: ephemeral,
		remoteStatic:    remoteStatic,
	}
	return h, remoteStatic, timestamp, nil
}

// CreateResponse produces the first 60 bytes of the 92-byte response
// message (everything before MAC1/MAC2, which the caller appends).
func CreateResponse(h *Handshake, selfID ids.Id) ([]byte, error) {
	if h.state != stateInitiationConsumed {
		return nil, ErrWrongState
	}
	h.localIndex = selfID

	ephemeralSK, err := GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	h.localEphemeral = ephemeralSK
	ephemeralPK, err := ephemeralSK.Public()
	if err != nil {
		return nil, err
	}

	msg := make([]byte, 60)
	putU32(msg[0:4], 2)
	putU32(msg[4:8], selfID.Uint32())
	putU32(msg[8:12], h.remoteIndex.Uint32())
	copy(msg[12:44], ephemeralPK[:])

	h.mixHash(ephemeralPK[:])
	h.mixKey(ephemeralPK[:])

	ss, err := ephemeralSK.SharedSecret(h.remoteEphemeral)
	if err != nil {
		return nil, err
	}
	h.mixKey(ss[:])
	ss, err = ephemeralSK.SharedSecret(h.remoteStatic)
	if err != nil {
		return nil, err
	}
	h.mixKey(ss[:])

	var tau [blake2s.Size]byte
	var key [chacha20poly1305.KeySize]byte
	c0, t1, t2 := kdf3(h.chainKey[:], h.presharedKey[:])
	h.chainKey, tau, key = c0, t1, t2
	h.mixHash(tau[:])

	sealed, err := seal(key, msg[44:44], nil, h.hash[:])
	if err != nil {
		return nil, err
	}
	msg = msg[:44+len(sealed)]
	h.mixHash(sealed)

	h.state = stateResponseCreated
	return msg, nil
}

// ConsumeResponse completes the initiator side of the exchange.
func ConsumeResponse(h *Handshake, msg []byte) error {
	if len(msg) != 60 {
		return ErrMessageTooShort
	}
	if getU32(msg[0:4]) != 2 {
		return ErrWrongMessageType
	}
	if h.state != stateInitiationCreated {
		return ErrWrongState
	}

	senderIdx := ids.FromUint32(getU32(msg[4:8]))
	var ephemeral PublicKey
	copy(ephemeral[:], msg[12:44])

	hash := mixHashValue(h.hash, ephemeral[:])
	chainKey := mixKeyValue(h.chainKey, ephemeral[:])

	ss, err := h.localEphemeral.SharedSecret(ephemeral)
	if err != nil {
		return err
	}
	chainKey = mixKeyValue(chainKey, ss[:])

	ss, err = h.localStatic.SharedSecret(ephemeral)
	if err != nil {
		return err
	}
	chainKey = mixKeyValue(chainKey, ss[:])

	var tau [blake2s.Size]byte
	var key [chacha20poly1305.KeySize]byte
	c0, t1, t2 := kdf3(chainKey[:], h.presharedKey[:])
	chainKey, tau, key = c0, t1, t2
	hash = mixHashValue(hash, tau[:])

	if _, err := open(key, nil, msg[44:60], hash[:]); err != nil {
		return err
	}
	hash = mixHashValue(hash, msg[44:60])

	h.hash = hash
	h.chainKey = chainKey
	h.remoteIndex = senderIdx
	h.remoteEphemeral = ephemeral
	h.state = stateResponseConsumed
	return nil
}

// DeriveTransportKeys extracts the one-shot (send, recv) key pair from a
// completed handshake and reports whether this side was the initiator. The
// Handshake's chain key is zeroed afterward; it must not be reused.
func DeriveTransportKeys(h *Handshake) (sendKey, recvKey [32]byte, isInitiator bool, err error) {
	switch h.state {
	case stateResponseConsumed:
		sendKey, recvKey = kdf2(h.chainKey[:], nil)
		isInitiator = true
	case stateResponseCreated:
		recvKey, sendKey = kdf2(h.chainKey[:], nil)
		isInitiator = false
	default:
		return [32]byte{}, [32]byte{}, false, ErrWrongState
	}
	h.chainKey = [blake2s.Size]byte{}
	h.localEphemeral.Zero()
	h.state = stateZeroed
	return sendKey, recvKey, isInitiator, nil
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
