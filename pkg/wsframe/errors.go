package wsframe

import "errors"

// Frame codec errors.
var (
	// ErrEndOfStream is returned when the peer closed the stream, sent a close
	// frame, or sent an opcode the codec does not handle.
	ErrEndOfStream = errors.New("wsframe: end of stream")

	// ErrUnmaskedFrame is returned when a client frame has no mask key.
	ErrUnmaskedFrame = errors.New("wsframe: client frame is not masked")

	// ErrFrameTooLarge is returned when a frame payload exceeds the reader limit.
	ErrFrameTooLarge = errors.New("wsframe: frame payload too large")
)
