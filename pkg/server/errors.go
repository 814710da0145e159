package server

import "errors"

// ErrNoUpstream is returned when Config.Upstream is nil.
var ErrNoUpstream = errors.New("server: no upstream sink configured")
