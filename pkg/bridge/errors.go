package bridge

import "errors"

// Bridge errors.
var (
	// ErrNoOpener is returned when Config.Opener is nil.
	ErrNoOpener = errors.New("bridge: no device opener configured")

	// ErrNoIdentity is returned when TLS is requested without an identity store.
	ErrNoIdentity = errors.New("bridge: tls requested without identity store")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("bridge: already started")

	// ErrClosed is returned when starting a stopped bridge.
	ErrClosed = errors.New("bridge: closed")
)
