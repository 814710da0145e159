package signaling

import "errors"

// Signaling errors.
var (
	// ErrMalformedMessage is returned when a frame does not hold a JSON
	// signaling message. It ends the session.
	ErrMalformedMessage = errors.New("signaling: malformed message")

	// ErrUnexpectedAnswer is returned when an answer arrives outside the
	// OfferSent state.
	ErrUnexpectedAnswer = errors.New("signaling: unexpected answer")

	// ErrMissingCandidate is returned for an iceCandidate message without a
	// candidate object.
	ErrMissingCandidate = errors.New("signaling: missing candidate")

	// ErrSessionClosed is returned when using a closed session.
	ErrSessionClosed = errors.New("signaling: session closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("signaling: session already started")

	// ErrNoPeerFactory is returned when SessionConfig.Peers is nil.
	ErrNoPeerFactory = errors.New("signaling: no peer factory")

	// ErrNoSender is returned when SessionConfig.Sender is nil.
	ErrNoSender = errors.New("signaling: no sender")
)
