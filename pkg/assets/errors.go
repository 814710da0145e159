package assets

import "errors"

// ErrNotFound is returned when a resource does not exist.
var ErrNotFound = errors.New("assets: not found")
