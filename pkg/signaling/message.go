package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Message types exchanged on the signaling socket.
const (
	TypeOffer           = "offer"
	TypeAnswer          = "answer"
	TypeICECandidate    = "iceCandidate"
	TypeRequestKeyFrame = "requestKeyFrame"

	TypeGetMacros   = "getMacros"
	TypeMacros      = "macros"
	TypeSaveMacros  = "saveMacros"
	TypeMacrosSaved = "macrosSaved"
	TypeSendSerial  = "sendSerial"
	TypeError       = "error"
)

// Message is one JSON signaling message. Only the fields relevant to Type
// are set.
type Message struct {
	Type      string     `json:"type"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`

	// Data carries a JSON document as a string (macros, saveMacros).
	Data string `json:"data,omitempty"`

	// Command is the device command of a sendSerial message.
	Command string `json:"command,omitempty"`

	// Error is a human-readable failure description.
	Error string `json:"error,omitempty"`
}

// Candidate is the ICE candidate carried by an iceCandidate message.
type Candidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex"`
}

func newCandidate(c webrtc.ICECandidateInit) *Candidate {
	return &Candidate{Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex}
}

// Init converts the candidate for a peer connection.
func (c *Candidate) Init() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex}
}

// ParseMessage decodes one signaling message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: no type", ErrMalformedMessage)
	}
	return &msg, nil
}
