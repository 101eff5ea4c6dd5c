package call

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePC records the order of calls made against it.
type fakePC struct {
	calls     []string
	remoteErr error
	badCands  map[string]bool
}

func (f *fakePC) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	f.calls = append(f.calls, "create-offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "local offer"}, nil
}

func (f *fakePC) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	f.calls = append(f.calls, "create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "local answer"}, nil
}

func (f *fakePC) SetLocalDescription(d webrtc.SessionDescription) error {
	f.calls = append(f.calls, "local:"+d.Type.String())
	return nil
}

func (f *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.calls = append(f.calls, "remote:"+d.Type.String())
	return f.remoteErr
}

func (f *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.calls = append(f.calls, "candidate:"+c.Candidate)
	if f.badCands[c.Candidate] {
		return errors.New("bad candidate")
	}
	return nil
}

func cand(c string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: c}
}

func TestNegotiator_BuffersCandidatesUntilOffer(t *testing.T) {
	pc := &fakePC{}
	n := NewNegotiator(pc, nil)

	require.NoError(t, n.AddCandidate(cand("c1")))
	require.NoError(t, n.AddCandidate(cand("c2")))
	require.NoError(t, n.AddCandidate(cand("c3")))
	assert.Equal(t, 3, n.Buffered())
	assert.Empty(t, pc.calls, "nothing applied before the remote description")

	answer, err := n.AcceptOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote offer"})
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Zero(t, n.Buffered())

	require.NoError(t, n.AddCandidate(cand("c4")))

	assert.Equal(t, []string{
		"remote:offer",
		"candidate:c1", "candidate:c2", "candidate:c3",
		"create-answer", "local:answer",
		"candidate:c4",
	}, pc.calls)
}

func TestNegotiator_InitiatorFlow(t *testing.T) {
	pc := &fakePC{badCands: map[string]bool{"bad": true}}
	n := NewNegotiator(pc, nil)

	offer, err := n.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, "local offer", offer.SDP)

	require.NoError(t, n.AddCandidate(cand("bad")))
	require.NoError(t, n.AddCandidate(cand("good")))
	assert.False(t, n.RemoteDescriptionSet())

	require.NoError(t, n.AcceptAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote answer"}))
	assert.True(t, n.RemoteDescriptionSet())

	// A bad buffered candidate does not stop the flush.
	assert.Equal(t, []string{
		"create-offer", "local:offer",
		"remote:answer", "candidate:bad", "candidate:good",
	}, pc.calls)

	err = n.AddCandidate(cand("bad"))
	var callErr *Error
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, "add ICE candidate", callErr.Op)
}

func TestNegotiator_Failures(t *testing.T) {
	t.Run("wrong description type", func(t *testing.T) {
		n := NewNegotiator(&fakePC{}, nil)
		_, err := n.AcceptOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer})
		assert.ErrorIs(t, err, ErrNegotiationFailed)
		assert.ErrorIs(t, n.AcceptAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer}), ErrNegotiationFailed)
	})

	t.Run("rejected remote description keeps buffering", func(t *testing.T) {
		cause := errors.New("malformed sdp")
		n := NewNegotiator(&fakePC{remoteErr: cause}, nil)
		require.NoError(t, n.AddCandidate(cand("c1")))

		err := n.AcceptAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer})
		assert.ErrorIs(t, err, ErrNegotiationFailed)
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, 1, n.Buffered())
	})

	t.Run("second remote description", func(t *testing.T) {
		n := NewNegotiator(&fakePC{}, nil)
		require.NoError(t, n.AcceptAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}))
		assert.ErrorIs(t, n.AcceptAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer}), ErrNegotiationFailed)
	})
}
