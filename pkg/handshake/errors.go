package handshake

import "errors"

// Handshake errors.
var (
	// ErrEndOfStream is returned when the client disconnects before the
	// request head is complete.
	ErrEndOfStream = errors.New("handshake: end of stream")

	// ErrHeaderTooLarge is returned when the request head exceeds the limit.
	ErrHeaderTooLarge = errors.New("handshake: request header too large")

	// ErrMalformedRequest is returned when the request line or headers cannot be parsed.
	ErrMalformedRequest = errors.New("handshake: malformed request")

	// ErrNotUpgrade is returned by Negotiate for a plain request.
	ErrNotUpgrade = errors.New("handshake: not a websocket upgrade")

	// ErrMissingKey is returned for an upgrade request without Sec-WebSocket-Key.
	ErrMissingKey = errors.New("handshake: missing Sec-WebSocket-Key")
)
