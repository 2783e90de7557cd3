// Package tai64n implements the 12-byte TAI64N timestamp format used to
// defend the handshake initiation message against replay.
package tai64n

import (
	"encoding/binary"
	"time"
)

// Size is the wire size of a TAI64N timestamp.
const Size = 12

// tai64Epoch is the TAI64 label offset: seconds are stored as the TAI64
// second count, which is Unix seconds plus this constant.
const tai64Epoch = 1 << 62

// Timestamp is a 12-byte big-endian (8-byte seconds, 4-byte nanoseconds)
// monotonic wall-clock timestamp.
type Timestamp [Size]byte

// Now returns the current time encoded as TAI64N.
func Now() Timestamp {
	return From(time.Now())
}

// From encodes an arbitrary time.Time as TAI64N.
func From(t time.Time) Timestamp {
	var ts Timestamp
	secs := uint64(t.Unix()) + tai64Epoch
	binary.BigEndian.PutUint64(ts[0:8], secs)
	binary.BigEndian.PutUint32(ts[8:12], uint32(t.Nanosecond()))
	return ts
}

// After reports whether ts is strictly later than other, used for the
// monotonicity check on inbound initiation messages.
func (ts Timestamp) After(other Timestamp) bool {
	for i := 0; i < Size; i++ {
		if ts[i] != other[i] {
			return ts[i] > other[i]
		}
	}
	return false
}

// Zero reports whether ts is the zero value, the sentinel used for "no
// timestamp recorded yet" in freshly created peer state.
func (ts Timestamp) Zero() bool {
	return ts == Timestamp{}
}
