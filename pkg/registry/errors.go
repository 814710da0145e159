package registry

import "errors"

// Registry errors.
var (
	// ErrAlreadyRegistered is returned when adding a client that already
	// belongs to a registry.
	ErrAlreadyRegistered = errors.New("registry: client already registered")

	// ErrClientClosed is returned when using a closed client.
	ErrClientClosed = errors.New("registry: client closed")
)
