package noise

import (
	"crypto/rand"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
)

// CookieReplySize is the fixed wire size of a cookie reply message.
const CookieReplySize = 64

// CookieManager generates and validates the responder's DoS-mitigation
// cookies. The underlying secret rotates every CookieValidTime so cookies
// issued before a rotation stop validating, forcing initiators to fetch a
// fresh one.
type CookieManager struct {
	mu         sync.RWMutex
	secret     [32]byte
	rotatedAt  time.Time
	rotateEach time.Duration
	now        func() time.Time
}

// NewCookieManager creates a CookieManager with a fresh random secret.
func NewCookieManager(rotateEach time.Duration) (*CookieManager, error) {
	cm := &CookieManager{rotateEach: rotateEach, now: time.Now}
	if _, err := rand.Read(cm.secret[:]); err != nil {
		return nil, err
	}
	cm.rotatedAt = cm.now()
	return cm, nil
}

func (cm *CookieManager) secretLocked() [32]byte {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.now().Sub(cm.rotatedAt) >= cm.rotateEach {
		var fresh [32]byte
		_, _ = rand.Read(fresh[:])
		cm.secret = fresh
		cm.rotatedAt = cm.now()
	}
	return cm.secret
}

// Value returns the cookie value a responder under load expects MAC2 to be
// keyed with for a given source address, letting the caller verify MAC2
// without constructing a full cookie reply.
func (cm *CookieManager) Value(source netip.Addr) [16]byte {
	return cm.cookieValue(source)
}

// cookieValue computes the 16-byte value bound to a source address,
// BLAKE2s-128 keyed by the rotating secret.
func (cm *CookieManager) cookieValue(source netip.Addr) [16]byte {
	secret := cm.secretLocked()
	addr := source.Unmap().As16()

	h, _ := blake2s.New128(secret[:])
	h.Write(addr[:])
	var cookie [16]byte
	copy(cookie[:], h.Sum(nil))
	return cookie
}

// CreateCookieReply builds the 64-byte encrypted cookie-reply message.
// receiverID is the sender's self_id from the triggering message, echoed
// back so the initiator can match the reply to its in-flight handshake.
// triggeringMAC1 is used as the AEAD associated data, and localStatic is
// the responder's own public key — the cookie-encryption key depends only
// on public information so it can be computed without any DH.
func (cm *CookieManager) CreateCookieReply(source netip.Addr, receiverID [4]byte, triggeringMAC1 [16]byte, localStatic PublicKey) ([]byte, error) {
	cookie := cm.cookieValue(source)
	key := deriveCookieKey(localStatic)

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	msg := make([]byte, 8, CookieReplySize)
	putU32(msg[0:4], 3)
	copy(msg[4:8], receiverID[:])
	msg = append(msg, nonce[:]...)
	msg = aead.Seal(msg, nonce[:], cookie[:], triggeringMAC1[:])
	return msg, nil
}

// ConsumeCookieReply decrypts a cookie reply using the MAC1 this host last
// sent to the peer (the same value used as AD on encryption) and the
// peer's static public key (whose knowledge on both sides derives the same
// encryption key).
func ConsumeCookieReply(msg []byte, lastMAC1 [16]byte, peerStatic PublicKey) ([16]byte, error) {
	var cookie [16]byte
	if len(msg) != CookieReplySize {
		return cookie, ErrInvalidCookieReply
	}
	if getU32(msg[0:4]) != 3 {
		return cookie, ErrWrongMessageType
	}
	nonce := msg[8:32]
	ciphertext := msg[32:64]

	key := deriveCookieKey(peerStatic)
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return cookie, err
	}
	plain, err := aead.Open(nil, nonce, ciphertext, lastMAC1[:])
	if err != nil {
		return cookie, ErrInvalidCookieReply
	}
	copy(cookie[:], plain)
	return cookie, nil
}
