package relay

import "errors"

// Delivery errors.
var (
	ErrSessionClosed = errors.New("session closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// Inbound frame errors, reported to the sender in an error frame.
var (
	ErrInvalidFrame = errors.New("invalid message format")
	ErrUnknownType  = errors.New("unknown message type")
	ErrTextEmpty    = errors.New("message text is required")
	ErrTextTooLong  = errors.New("message text is too long")
	ErrTextInvalid  = errors.New("message text must be a UTF-8 string")
	ErrRateLimited  = errors.New("rate limit exceeded, please slow down")
)

// Handshake errors.
var (
	ErrMissingRideID = errors.New("ride_id is required")
	ErrMissingUserID = errors.New("user_id is required")
)
