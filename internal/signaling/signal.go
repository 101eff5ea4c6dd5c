package signaling

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Kind tags a Signal.
type Kind string

const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
)

var ErrInvalidSignal = errors.New("invalid signal")

// Signal is one negotiation message exchanged between the two peers of a room.
type Signal struct {
	Kind     Kind   `json:"kind"`
	RoomID   string `json:"room_id"`
	SenderID string `json:"sender_id"`

	// SDP is set for offers and answers.
	SDP string `json:"sdp,omitempty"`

	// Candidate is set for ice-candidate signals.
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// FromDescription wraps a local offer or answer.
func FromDescription(roomID, senderID string, desc webrtc.SessionDescription) (Signal, error) {
	var kind Kind
	switch desc.Type {
	case webrtc.SDPTypeOffer:
		kind = KindOffer
	case webrtc.SDPTypeAnswer:
		kind = KindAnswer
	default:
		return Signal{}, fmt.Errorf("%w: unsupported description type %q", ErrInvalidSignal, desc.Type)
	}
	return Signal{Kind: kind, RoomID: roomID, SenderID: senderID, SDP: desc.SDP}, nil
}

// FromCandidate wraps a locally gathered ICE candidate.
func FromCandidate(roomID, senderID string, c webrtc.ICECandidateInit) Signal {
	return Signal{Kind: KindICECandidate, RoomID: roomID, SenderID: senderID, Candidate: &c}
}

// Validate checks that only the fields belonging to the kind are set.
func (s Signal) Validate() error {
	if s.RoomID == "" {
		return fmt.Errorf("%w: missing room_id", ErrInvalidSignal)
	}
	if s.SenderID == "" {
		return fmt.Errorf("%w: missing sender_id", ErrInvalidSignal)
	}

	switch s.Kind {
	case KindOffer, KindAnswer:
		if s.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrInvalidSignal, s.Kind)
		}
		if s.Candidate != nil {
			return fmt.Errorf("%w: %s must not carry a candidate", ErrInvalidSignal, s.Kind)
		}
	case KindICECandidate:
		if s.Candidate == nil {
			return fmt.Errorf("%w: ice-candidate without candidate", ErrInvalidSignal)
		}
		if s.SDP != "" {
			return fmt.Errorf("%w: ice-candidate must not carry sdp", ErrInvalidSignal)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSignal, s.Kind)
	}
	return nil
}

// LoadBearing reports whether losing the signal breaks negotiation.
// Offers and answers are; candidates are superseded by later ones.
func (s Signal) LoadBearing() bool {
	return s.Kind == KindOffer || s.Kind == KindAnswer
}

// SessionDescription converts an offer or answer back to its pion form.
func (s Signal) SessionDescription() (webrtc.SessionDescription, error) {
	switch s.Kind {
	case KindOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s.SDP}, nil
	case KindAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: s.SDP}, nil
	}
	return webrtc.SessionDescription{}, fmt.Errorf("%w: %s is not a session description", ErrInvalidSignal, s.Kind)
}
