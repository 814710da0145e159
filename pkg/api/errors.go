package api

import "errors"

var (
	// ErrNoBackend is returned when Config.Backend is nil.
	ErrNoBackend = errors.New("api: no backend configured")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("api: already started")
)
