package upstream

import "errors"

// Upstream errors.
var (
	// ErrNotOpen is returned when writing while no device is connected.
	ErrNotOpen = errors.New("upstream: device not open")

	// ErrAlreadyOpen is returned by Open on a connected link.
	ErrAlreadyOpen = errors.New("upstream: device already open")

	// ErrNoOpener is returned when LinkConfig.Opener is nil.
	ErrNoOpener = errors.New("upstream: no opener configured")

	// ErrNoDevice is returned when port auto-detection finds nothing.
	ErrNoDevice = errors.New("upstream: no serial device found")

	// ErrInvalidSetting is returned for unsupported serial settings.
	ErrInvalidSetting = errors.New("upstream: invalid serial setting")

	// ErrInvalidCommand is returned when a hex command cannot be decoded.
	ErrInvalidCommand = errors.New("upstream: invalid command")
)
