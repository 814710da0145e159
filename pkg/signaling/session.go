// Package signaling runs the WebRTC offer/answer exchange over a WebSocket.
//
// The bridge is always the offerer. A Session creates a peer through a
// PeerFactory, sends the offer, waits for the browser's answer and relays ICE
// candidates in both directions. Local candidates are held back until the
// answer has been applied, then flushed in discovery order.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/usbnetserver/bridge/pkg/wsframe"
)

// State is the negotiation state of a Session.
type State int

const (
	// StateOpen is the state before the offer was sent.
	StateOpen State = iota

	// StateOfferSent means the offer is out and an answer is awaited.
	StateOfferSent

	// StateNegotiated means the answer was applied.
	StateNegotiated

	// StateClosed means the session was torn down.
	StateClosed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateOfferSent:
		return "OfferSent"
	case StateNegotiated:
		return "Negotiated"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ICEState tracks local candidate delivery.
type ICEState int

const (
	// ICEBuffering holds local candidates until the answer is applied.
	ICEBuffering ICEState = iota

	// ICEDraining is set while buffered candidates are being flushed.
	ICEDraining

	// ICEDrained sends every new local candidate immediately.
	ICEDrained
)

// String returns a human-readable name for the ICE state.
func (s ICEState) String() string {
	switch s {
	case ICEBuffering:
		return "Buffering"
	case ICEDraining:
		return "Draining"
	case ICEDrained:
		return "Drained"
	default:
		return "Unknown"
	}
}

// Sender writes frames to the signaling socket. *registry.Client satisfies it.
type Sender interface {
	WriteFrame(op wsframe.Opcode, p []byte) error
}

// Peer is one peer connection owned by the media engine.
type Peer interface {
	// CreateOffer creates an offer, applies it as the local description and
	// returns its SDP.
	CreateOffer() (string, error)

	// SetAnswer applies the remote answer.
	SetAnswer(sdp string) error

	// AddICECandidate adds a remote candidate.
	AddICECandidate(c webrtc.ICECandidateInit) error

	// Close releases the peer connection.
	Close() error
}

// PeerFactory creates peers. onCandidate is called for every local ICE
// candidate the peer discovers, from any goroutine.
type PeerFactory interface {
	NewPeer(onCandidate func(webrtc.ICECandidateInit)) (Peer, error)
}

// KeyFrameRequester forces the video encoder to emit a keyframe.
type KeyFrameRequester interface {
	RequestKeyFrame()
}

// Extension handles message types the session does not know. It returns
// false when it does not handle msg.Type either.
type Extension interface {
	HandleMessage(s *Session, msg *Message) (bool, error)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// Sender writes to the signaling socket. Required.
	Sender Sender

	// Peers creates the peer connection. Required.
	Peers PeerFactory

	// KeyFrames receives requestKeyFrame messages. Optional.
	KeyFrames KeyFrameRequester

	// Extension handles additional message types. Optional.
	Extension Extension

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Session is the signaling state machine for one WebSocket connection.
type Session struct {
	sender    Sender
	peers     PeerFactory
	keyFrames KeyFrameRequester
	ext       Extension
	log       logging.LeveledLogger

	// mu guards the state fields and serializes candidate delivery so
	// buffered and live candidates keep discovery order.
	mu       sync.Mutex
	state    State
	iceState ICEState
	buffer   []webrtc.ICECandidateInit
	peer     Peer

	remoteDescriptionSet bool
}

// NewSession creates a session in the Open state.
func NewSession(config SessionConfig) (*Session, error) {
	if config.Sender == nil {
		return nil, ErrNoSender
	}
	if config.Peers == nil {
		return nil, ErrNoPeerFactory
	}
	s := &Session{
		sender:    config.Sender,
		peers:     config.Peers,
		keyFrames: config.KeyFrames,
		ext:       config.Extension,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("signaling")
	}
	return s, nil
}

// State returns the negotiation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ICEState returns the local candidate delivery state.
func (s *Session) ICEState() ICEState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iceState
}

// Buffered returns the number of local candidates waiting for the answer.
func (s *Session) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// RemoteDescriptionSet reports whether the answer was applied.
func (s *Session) RemoteDescriptionSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteDescriptionSet
}

// Start creates the peer and sends the offer.
func (s *Session) Start() error {
	s.mu.Lock()
	switch {
	case s.state == StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.peer != nil:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.mu.Unlock()

	peer, err := s.peers.NewPeer(s.onLocalCandidate)
	if err != nil {
		return fmt.Errorf("create peer: %w", err)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = peer.Close()
		return ErrSessionClosed
	}
	s.peer = peer
	s.mu.Unlock()

	sdp, err := peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	// Hold mu across the send so no candidate can overtake the offer.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if err := s.sendLocked(&Message{Type: TypeOffer, SDP: sdp}); err != nil {
		return err
	}
	s.state = StateOfferSent
	if s.log != nil {
		s.log.Debug("offer sent")
	}
	return nil
}

func (s *Session) onLocalCandidate(c webrtc.ICECandidateInit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.state == StateClosed:
		return
	case s.iceState != ICEDrained:
		s.buffer = append(s.buffer, c)
		return
	}
	if err := s.sendLocked(&Message{Type: TypeICECandidate, Candidate: newCandidate(c)}); err != nil && s.log != nil {
		s.log.Warnf("send candidate: %v", err)
	}
}

// HandleMessage processes one inbound frame payload.
func (s *Session) HandleMessage(data []byte) error {
	msg, err := ParseMessage(data)
	if err != nil {
		return err
	}

	if s.State() == StateClosed {
		return ErrSessionClosed
	}

	switch msg.Type {
	case TypeAnswer:
		return s.handleAnswer(msg.SDP)

	case TypeICECandidate:
		if msg.Candidate == nil {
			return ErrMissingCandidate
		}
		s.mu.Lock()
		peer := s.peer
		s.mu.Unlock()
		if peer == nil {
			return ErrSessionClosed
		}
		return peer.AddICECandidate(msg.Candidate.Init())

	case TypeRequestKeyFrame:
		if s.log != nil {
			s.log.Debug("keyframe requested by remote")
		}
		if s.keyFrames != nil {
			s.keyFrames.RequestKeyFrame()
		}
		return nil
	}

	if s.ext != nil {
		handled, err := s.ext.HandleMessage(s, msg)
		if handled || err != nil {
			return err
		}
	}
	if s.log != nil {
		s.log.Debugf("ignoring message type %q", msg.Type)
	}
	return nil
}

func (s *Session) handleAnswer(sdp string) error {
	s.mu.Lock()
	if s.state != StateOfferSent {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w in state %s", ErrUnexpectedAnswer, state)
	}
	peer := s.peer
	s.mu.Unlock()

	if err := peer.SetAnswer(sdp); err != nil {
		return fmt.Errorf("set answer: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	s.remoteDescriptionSet = true
	s.state = StateNegotiated
	s.iceState = ICEDraining

	if s.log != nil {
		s.log.Debugf("remote description set, draining %d ICE candidates", len(s.buffer))
	}
	for i := range s.buffer {
		if err := s.sendLocked(&Message{Type: TypeICECandidate, Candidate: newCandidate(s.buffer[i])}); err != nil {
			if s.log != nil {
				s.log.Warnf("send buffered candidate: %v", err)
			}
		}
	}
	s.buffer = nil
	s.iceState = ICEDrained
	return nil
}

// Send writes msg as a JSON text frame.
func (s *Session) Send(msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	return s.sendLocked(msg)
}

func (s *Session) sendLocked(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.sender.WriteFrame(wsframe.OpText, data)
}

// Run reads frames until the client goes away, then closes the session.
// A clean end of stream returns nil; malformed messages end the session
// with ErrMalformedMessage, other message errors are logged.
func (s *Session) Run(r *wsframe.Reader) error {
	defer s.Close()

	for {
		frame, err := r.ReadFrame()
		if err != nil {
			if errors.Is(err, wsframe.ErrEndOfStream) {
				return nil
			}
			return err
		}

		if err := s.HandleMessage(frame.Payload); err != nil {
			if errors.Is(err, ErrMalformedMessage) || errors.Is(err, ErrSessionClosed) {
				return err
			}
			if s.log != nil {
				s.log.Warnf("%v", err)
			}
		}
	}
}

// Close disposes the peer and drops buffered candidates. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.buffer = nil
	peer := s.peer
	s.peer = nil
	s.mu.Unlock()

	if peer != nil {
		return peer.Close()
	}
	return nil
}
