// Package ids implements the 4-byte session identifiers carried in every
// handshake and transport header.
package ids

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Size is the wire size of an Id in bytes.
const Size = 4

// Id is a 4-byte session index chosen uniformly at random by the receiver.
// It identifies a session from the sender's point of view only; the same
// value may coincidentally be in use by another peer since the namespace is
// local to this host.
type Id [Size]byte

// Zero reports whether id is the zero value (never a valid allocated id).
func (id Id) Zero() bool {
	return id == Id{}
}

func (id Id) String() string {
	return fmt.Sprintf("%08x", binary.BigEndian.Uint32(id[:]))
}

// Uint32 returns the id as a little-endian unsigned integer, the form it
// takes in handshake and transport wire headers.
func (id Id) Uint32() uint32 {
	return binary.LittleEndian.Uint32(id[:])
}

// FromUint32 builds an Id from its little-endian wire representation.
func FromUint32(v uint32) Id {
	var id Id
	binary.LittleEndian.PutUint32(id[:], v)
	return id
}

// New allocates a new random Id. Collisions with ids already in use are the
// caller's responsibility to detect via the global id map; the most recent
// allocation always wins a collision per the tie-break rule.
func New() (Id, error) {
	var id Id
	if _, err := rand.Read(id[:]); err != nil {
		return Id{}, fmt.Errorf("ids: failed to generate random id: %w", err)
	}
	return id, nil
}
