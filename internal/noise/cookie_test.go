package noise

import (
	"net/netip"
	"testing"
	"time"
)

func TestCookieReplyRoundTrip(t *testing.T) {
	_, responderPK := mustKeyPair(t)
	cm, err := NewCookieManager(2 * time.Minute)
	if err != nil {
		t.Fatalf("NewCookieManager: %v", err)
	}

	source := netip.MustParseAddr("203.0.113.7")
	var receiverID [4]byte
	copy(receiverID[:], []byte{1, 2, 3, 4})
	var mac1 [16]byte
	copy(mac1[:], []byte("triggering-mac1-"))

	reply, err := cm.CreateCookieReply(source, receiverID, mac1, responderPK)
	if err != nil {
		t.Fatalf("CreateCookieReply: %v", err)
	}
	if len(reply) != CookieReplySize {
		t.Fatalf("reply size = %d, want %d", len(reply), CookieReplySize)
	}

	cookie, err := ConsumeCookieReply(reply, mac1, responderPK)
	if err != nil {
		t.Fatalf("ConsumeCookieReply: %v", err)
	}

	want := cm.cookieValue(source)
	if cookie != want {
		t.Fatalf("decrypted cookie does not match expected value")
	}
}

func TestCookieReplyWrongMAC1Fails(t *testing.T) {
	_, responderPK := mustKeyPair(t)
	cm, err := NewCookieManager(2 * time.Minute)
	if err != nil {
		t.Fatalf("NewCookieManager: %v", err)
	}

	source := netip.MustParseAddr("203.0.113.7")
	var receiverID [4]byte
	var mac1, wrongMAC1 [16]byte
	copy(mac1[:], []byte("triggering-mac1-"))
	copy(wrongMAC1[:], []byte("different-mac1--"))

	reply, err := cm.CreateCookieReply(source, receiverID, mac1, responderPK)
	if err != nil {
		t.Fatalf("CreateCookieReply: %v", err)
	}

	if _, err := ConsumeCookieReply(reply, wrongMAC1, responderPK); err == nil {
		t.Fatalf("expected decryption to fail with the wrong MAC1 as AD")
	}
}
