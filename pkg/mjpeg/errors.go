package mjpeg

import "errors"

// ErrNoFrames is returned when Config.Frames is nil.
var ErrNoFrames = errors.New("mjpeg: no frame source configured")
