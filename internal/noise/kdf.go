package noise

import (
	"crypto/hmac"
	"hash"

	"golang.org/x/crypto/blake2s"
)

// hmac1/hmac2 implement the HMAC-BLAKE2s primitive the Noise key-derivation
// functions are built from.
func hmac1(sum *[blake2s.Size]byte, key, in0 []byte) {
	mac := hmac.New(newBlake2s, key)
	mac.Write(in0)
	mac.Sum(sum[:0])
}

func hmac2(sum *[blake2s.Size]byte, key, in0, in1 []byte) {
	mac := hmac.New(newBlake2s, key)
	mac.Write(in0)
	mac.Write(in1)
	mac.Sum(sum[:0])
}

func newBlake2s() hash.Hash {
	h, _ := blake2s.New256(nil)
	return h
}

// kdf1 derives a single 32-byte output from key and input, per the Noise
// Protocol Framework's two-step HKDF construction.
func kdf1(key, input []byte) [blake2s.Size]byte {
	var t0 [blake2s.Size]byte
	hmac1(&t0, key, input)
	var out [blake2s.Size]byte
	hmac1(&out, t0[:], []byte{0x1})
	return out
}

// kdf2 derives two 32-byte outputs.
func kdf2(key, input []byte) (t0, t1 [blake2s.Size]byte) {
	var prk [blake2s.Size]byte
	hmac1(&prk, key, input)
	hmac1(&t0, prk[:], []byte{0x1})
	hmac2(&t1, prk[:], t0[:], []byte{0x2})
	return t0, t1
}

// kdf3 derives three 32-byte outputs, used when mixing the pre-shared key.
func kdf3(key, input []byte) (t0, t1, t2 [blake2s.Size]byte) {
	var prk [blake2s.Size]byte
	hmac1(&prk, key, input)
	hmac1(&t0, prk[:], []byte{0x1})
	hmac2(&t1, prk[:], t0[:], []byte{0x2})
	hmac2(&t2, prk[:], t1[:], []byte{0x3})
	return t0, t1, t2
}
