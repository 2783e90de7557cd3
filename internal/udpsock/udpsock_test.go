package udpsock

import "testing"

func TestListenAndRoundTrip(t *testing.T) {
	a, err := Listen(0)
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer a.Close()

	b, err := Listen(0)
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer b.Close()

	dst := a.LocalAddrPort()
	if _, err := b.WriteToUDPAddrPort([]byte("hello"), dst); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	buf := make([]byte, 16)
	n, _, err := a.ReadFromUDPAddrPort(buf)
	if err != nil {
		t.Fatalf("failed to read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", buf[:n])
	}
}

func TestSetTrafficClassDoesNotError(t *testing.T) {
	s, err := Listen(0)
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer s.Close()

	if err := s.SetTrafficClass(0x10); err != nil {
		t.Fatalf("expected traffic class to be settable on at least one address family: %v", err)
	}
}
