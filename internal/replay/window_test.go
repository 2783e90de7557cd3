package replay

import "testing"

func TestAcceptsInOrder(t *testing.T) {
	var w Window
	for i := uint64(0); i < 10; i++ {
		if !w.CheckAndUpdate(i) {
			t.Fatalf("counter %d should be accepted", i)
		}
	}
}

func TestRejectsDuplicate(t *testing.T) {
	var w Window
	if !w.CheckAndUpdate(5) {
		t.Fatalf("first delivery of 5 should be accepted")
	}
	if w.CheckAndUpdate(5) {
		t.Fatalf("duplicate delivery of 5 should be rejected")
	}
}

func TestAcceptsReorderingWithinWindow(t *testing.T) {
	var w Window
	if !w.CheckAndUpdate(100) {
		t.Fatalf("100 should be accepted")
	}
	if !w.CheckAndUpdate(50) {
		t.Fatalf("50 should be accepted, it's within the window behind top")
	}
	if w.CheckAndUpdate(50) {
		t.Fatalf("50 delivered twice should be rejected the second time")
	}
}

func TestRejectsTooOld(t *testing.T) {
	var w Window
	if !w.CheckAndUpdate(Width + 100) {
		t.Fatalf("expected acceptance")
	}
	if w.CheckAndUpdate(50) {
		t.Fatalf("counter older than top-Width must be rejected")
	}
}

func TestZeroIsValidFirstCounter(t *testing.T) {
	var w Window
	if !w.CheckAndUpdate(0) {
		t.Fatalf("counter 0 must be accepted as the very first delivery")
	}
	if w.CheckAndUpdate(0) {
		t.Fatalf("counter 0 delivered twice must be rejected")
	}
}

func TestLargeJumpClearsWindow(t *testing.T) {
	var w Window
	w.CheckAndUpdate(5)
	if !w.CheckAndUpdate(5 + Width*4) {
		t.Fatalf("large forward jump should be accepted")
	}
	if !w.CheckAndUpdate(5 + Width*4 - 1) {
		t.Fatalf("counter just behind the new top, in a freshly cleared region, must be accepted")
	}
}
