package tcpproxy

import "errors"

// ErrNoUpstream is returned when Config.Upstream is nil.
var ErrNoUpstream = errors.New("tcpproxy: no upstream sink configured")
