package call

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// PeerConnection is the part of *webrtc.PeerConnection used for negotiation.
type PeerConnection interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
}

var _ PeerConnection = (*webrtc.PeerConnection)(nil)

// Negotiator runs offer/answer against a peer connection and holds remote
// candidates that arrive before the remote description.
type Negotiator struct {
	pc  PeerConnection
	log *slog.Logger

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func NewNegotiator(pc PeerConnection, log *slog.Logger) *Negotiator {
	if log == nil {
		log = slog.Default()
	}
	return &Negotiator{pc: pc, log: log}
}

// CreateOffer creates an offer and applies it locally.
func (n *Negotiator) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, negotiationError("create offer", err)
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, negotiationError("set local description", err)
	}
	return offer, nil
}

// AcceptOffer applies a remote offer, flushes buffered candidates and returns
// the local answer.
func (n *Negotiator) AcceptOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if offer.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, WrapError("accept offer", ErrNegotiationFailed, "got "+offer.Type.String())
	}
	if err := n.applyRemote(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, negotiationError("create answer", err)
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, negotiationError("set local description", err)
	}
	return answer, nil
}

// AcceptAnswer applies the remote answer and flushes buffered candidates.
func (n *Negotiator) AcceptAnswer(answer webrtc.SessionDescription) error {
	if answer.Type != webrtc.SDPTypeAnswer {
		return WrapError("accept answer", ErrNegotiationFailed, "got "+answer.Type.String())
	}
	return n.applyRemote(answer)
}

// AddCandidate applies c now if the remote description is set, otherwise it
// is queued behind any earlier candidates.
func (n *Negotiator) AddCandidate(c webrtc.ICECandidateInit) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.remoteSet {
		n.pending = append(n.pending, c)
		return nil
	}
	if err := n.pc.AddICECandidate(c); err != nil {
		return NewError("add ICE candidate", err)
	}
	return nil
}

// Buffered returns the number of candidates waiting for a remote description.
func (n *Negotiator) Buffered() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

func (n *Negotiator) RemoteDescriptionSet() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.remoteSet
}

func (n *Negotiator) applyRemote(desc webrtc.SessionDescription) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.remoteSet {
		return WrapError("set remote description", ErrNegotiationFailed, "remote "+desc.Type.String()+" already applied")
	}
	if err := n.pc.SetRemoteDescription(desc); err != nil {
		return negotiationError("set remote description", err)
	}
	n.remoteSet = true

	pending := n.pending
	n.pending = nil
	for _, c := range pending {
		// A bad candidate only loses that path.
		if err := n.pc.AddICECandidate(c); err != nil {
			n.log.Debug("Dropping buffered ICE candidate", "candidate", c.Candidate, "error", err)
		}
	}
	if len(pending) > 0 {
		n.log.Debug("Flushed buffered ICE candidates", "count", len(pending))
	}
	return nil
}
