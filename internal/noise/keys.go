package noise

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"wgtun/internal/mem"
)

// PublicKey is a Curve25519 public key.
type PublicKey [32]byte

// PrivateKey is a Curve25519 static or ephemeral secret.
type PrivateKey [32]byte

// GeneratePrivateKey returns a new random, clamped Curve25519 private key.
func GeneratePrivateKey() (PrivateKey, error) {
	var sk PrivateKey
	if _, err := rand.Read(sk[:]); err != nil {
		return PrivateKey{}, fmt.Errorf("noise: failed to generate private key: %w", err)
	}
	sk[0] &= 248
	sk[31] = (sk[31] & 127) | 64
	return sk, nil
}

// Public derives the Curve25519 public key for sk.
func (sk PrivateKey) Public() (PublicKey, error) {
	var pk PublicKey
	out, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return PublicKey{}, fmt.Errorf("noise: failed to derive public key: %w", err)
	}
	copy(pk[:], out)
	return pk, nil
}

// SharedSecret performs the Diffie-Hellman agreement sk * pk.
func (sk PrivateKey) SharedSecret(pk PublicKey) ([32]byte, error) {
	var ss [32]byte
	out, err := curve25519.X25519(sk[:], pk[:])
	if err != nil {
		return ss, fmt.Errorf("noise: DH agreement failed: %w", err)
	}
	copy(ss[:], out)
	return ss, nil
}

// Zero overwrites sk's key material, called once it is no longer needed.
func (sk *PrivateKey) Zero() {
	mem.ZeroBytes(sk[:])
}
