package noise

import "errors"

var (
	// ErrInvalidMAC1 indicates MAC1 verification failed; the message is
	// dropped before any DH or allocation happens.
	ErrInvalidMAC1 = errors.New("noise: MAC1 verification failed")

	// ErrInvalidMAC2 indicates MAC2 verification failed while the
	// responder was under load and required a valid cookie.
	ErrInvalidMAC2 = errors.New("noise: MAC2 verification failed")

	ErrInvalidCookieReply = errors.New("noise: invalid cookie reply")
	ErrMessageTooShort    = errors.New("noise: message too short")
	ErrWrongMessageType   = errors.New("noise: unexpected message type")
	ErrWrongState         = errors.New("noise: handshake is in the wrong state for this operation")
	ErrDecryptFailed      = errors.New("noise: AEAD decryption failed")
	ErrTimestampNotNewer  = errors.New("noise: initiation timestamp is not newer than the last one recorded")
)
