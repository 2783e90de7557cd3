package tai64n

import (
	"testing"
	"time"
)

func TestAfterMonotonic(t *testing.T) {
	base := time.Unix(1700000000, 0)
	earlier := From(base)
	later := From(base.Add(time.Second))

	if !later.After(earlier) {
		t.Fatalf("expected later to be after earlier")
	}
	if earlier.After(later) {
		t.Fatalf("earlier must not be after later")
	}
	if earlier.After(earlier) {
		t.Fatalf("a timestamp must not be after itself")
	}
}

func TestZero(t *testing.T) {
	var ts Timestamp
	if !ts.Zero() {
		t.Fatalf("zero value must report Zero() == true")
	}
	if Now().Zero() {
		t.Fatalf("Now() must not be the zero value")
	}
}
