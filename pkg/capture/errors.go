package capture

import "errors"

// Capture errors.
var (
	// ErrNoPath is returned when WatcherConfig.Path is empty.
	ErrNoPath = errors.New("capture: no watch path")

	// ErrNoFrames is returned when WatcherConfig.Frames is nil.
	ErrNoFrames = errors.New("capture: no frame reference")

	// ErrNoVideo is returned when H264FeederConfig.Video is nil.
	ErrNoVideo = errors.New("capture: no video writer")
)
