package noise

import (
	"crypto/hmac"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/blake2s"

	"wgtun/internal/mem"
)

func deriveMAC1Key(remoteStatic PublicKey) [blake2s.Size]byte {
	h, _ := blake2s.New256(nil)
	h.Write([]byte(labelMAC1))
	h.Write(remoteStatic[:])
	var key [blake2s.Size]byte
	copy(key[:], h.Sum(nil))
	return key
}

func deriveCookieKey(remoteStatic PublicKey) [blake2s.Size]byte {
	h, _ := blake2s.New256(nil)
	h.Write([]byte(labelCookie))
	h.Write(remoteStatic[:])
	var key [blake2s.Size]byte
	copy(key[:], h.Sum(nil))
	return key
}

// ComputeMAC1 computes MAC1 over the message bytes preceding the MAC1
// field, keyed by the responder's static public key (known to both sides
// without any DH).
func ComputeMAC1(msgPrefix []byte, responderStatic PublicKey) [16]byte {
	key := deriveMAC1Key(responderStatic)
	defer mem.ZeroBytes(key[:])

	h, _ := blake2s.New128(key[:])
	h.Write(msgPrefix)
	var mac [16]byte
	copy(mac[:], h.Sum(nil))
	return mac
}

// ComputeMAC2 computes MAC2 over the message bytes preceding the MAC2
// field (which includes MAC1), keyed directly by the 16-byte cookie.
func ComputeMAC2(msgPrefixWithMAC1 []byte, cookie [16]byte) [16]byte {
	h, _ := blake2s.New128(cookie[:])
	h.Write(msgPrefixWithMAC1)
	var mac [16]byte
	copy(mac[:], h.Sum(nil))
	return mac
}

// AppendMACs appends MAC1 (and, if cookie is non-nil, MAC2) to a handshake
// message body, producing the final wire message. Without a cookie, MAC2
// is filled with random bytes rather than left as zero, matching the
// reference behaviour of never fingerprinting cookie-less traffic.
func AppendMACs(body []byte, responderStatic PublicKey, cookie *[16]byte) ([]byte, error) {
	mac1 := ComputeMAC1(body, responderStatic)

	out := make([]byte, len(body)+32)
	copy(out, body)
	copy(out[len(body):], mac1[:])

	if cookie != nil {
		mac2 := ComputeMAC2(out[:len(body)+16], *cookie)
		copy(out[len(body)+16:], mac2[:])
	} else if _, err := rand.Read(out[len(body)+16:]); err != nil {
		return nil, fmt.Errorf("noise: crypto/rand failed: %w", err)
	}
	return out, nil
}

// VerifyMAC1 checks MAC1 on a full message (body || MAC1 || MAC2). This is
// cheap and stateless and MUST be checked before any allocation or DH.
func VerifyMAC1(fullMsg []byte, localStatic PublicKey) bool {
	if len(fullMsg) < 32 {
		return false
	}
	bodyLen := len(fullMsg) - 32
	got := fullMsg[bodyLen : bodyLen+16]
	want := ComputeMAC1(fullMsg[:bodyLen], localStatic)
	return hmac.Equal(got, want[:])
}

// VerifyMAC2 checks MAC2 given the expected cookie; only consulted while
// the responder is under load.
func VerifyMAC2(fullMsg []byte, cookie [16]byte) bool {
	if len(fullMsg) < 32 {
		return false
	}
	bodyLen := len(fullMsg) - 32
	got := fullMsg[bodyLen+16:]
	want := ComputeMAC2(fullMsg[:bodyLen+16], cookie)
	return hmac.Equal(got, want[:])
}

// MAC1Of extracts the MAC1 field from a full message, needed so the
// initiator can remember the MAC1 it last sent (required to decrypt a
// later cookie reply).
func MAC1Of(fullMsg []byte) [16]byte {
	var mac [16]byte
	if len(fullMsg) < 32 {
		return mac
	}
	copy(mac[:], fullMsg[len(fullMsg)-32:len(fullMsg)-16])
	return mac
}
