// Package wgconst holds the timing and sizing constants that govern
// handshake lifetime, key rotation, and message framing.
package wgconst

import "time"

const (
	// RekeyAfterMessages is the send-counter threshold past which a
	// transport should voluntarily renegotiate.
	RekeyAfterMessages = (1 << 64) - (1 << 16) - 1

	// RejectAfterMessages is the hard counter ceiling; past this the
	// transport is dead and must be replaced.
	RejectAfterMessages = (1 << 64) - (1 << 4) - 1

	RekeyAfterTime   = 120 * time.Second
	RejectAfterTime  = 180 * time.Second
	RekeyAttemptTime = 90 * time.Second
	RekeyTimeout     = 5 * time.Second
	KeepaliveTimeout = 10 * time.Second

	// CookieValidTime is how long an initiator-side cookie remains
	// usable for MAC2 before it must be refreshed by a new cookie reply.
	CookieValidTime = 2 * time.Minute

	// MaintenanceTick is the period of the maintenance worker's loop.
	MaintenanceTick = 1 * time.Second
)

// Message type bytes, the first byte of every wire message.
const (
	MessageTypeInitiation = 1
	MessageTypeResponse   = 2
	MessageTypeCookieReply = 3
	MessageTypeTransport  = 4
)

// Wire sizes in bytes.
const (
	MessageInitiationSize = 148
	MessageResponseSize   = 92
	MessageCookieReplySize = 64
	MessageTransportHeaderSize = 16
	MessageTransportMinSize    = 32

	MAC1Size   = 16
	MAC2Size   = 16
	CookieSize = 16
)

// MaxUDPPayload bounds a single TUN read / AEAD plaintext, matching the
// conventional WireGuard MTU ceiling for the inner packet.
const MaxUDPPayload = 1472
