package identity

import "errors"

// Identity errors. All of them are fatal to starting a TLS listener.
var (
	// ErrNoDirectory is returned when StoreConfig.Dir is empty.
	ErrNoDirectory = errors.New("identity: no storage directory configured")

	// ErrGenerate is returned when the key pair or certificate cannot be created.
	ErrGenerate = errors.New("identity: generation failed")

	// ErrLoad is returned when an existing keystore cannot be read or decoded.
	ErrLoad = errors.New("identity: load failed")

	// ErrPersist is returned when the keystore cannot be written.
	ErrPersist = errors.New("identity: persist failed")
)
