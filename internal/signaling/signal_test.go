package signaling

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalValidate(t *testing.T) {
	cand := &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"}

	tests := []struct {
		name    string
		sig     Signal
		wantErr bool
	}{
		{name: "offer", sig: Signal{Kind: KindOffer, RoomID: "r", SenderID: "a", SDP: "v=0"}},
		{name: "answer", sig: Signal{Kind: KindAnswer, RoomID: "r", SenderID: "a", SDP: "v=0"}},
		{name: "candidate", sig: Signal{Kind: KindICECandidate, RoomID: "r", SenderID: "a", Candidate: cand}},
		{name: "missing room", sig: Signal{Kind: KindOffer, SenderID: "a", SDP: "v=0"}, wantErr: true},
		{name: "missing sender", sig: Signal{Kind: KindOffer, RoomID: "r", SDP: "v=0"}, wantErr: true},
		{name: "offer without sdp", sig: Signal{Kind: KindOffer, RoomID: "r", SenderID: "a"}, wantErr: true},
		{name: "answer with candidate", sig: Signal{Kind: KindAnswer, RoomID: "r", SenderID: "a", SDP: "v=0", Candidate: cand}, wantErr: true},
		{name: "candidate without candidate", sig: Signal{Kind: KindICECandidate, RoomID: "r", SenderID: "a"}, wantErr: true},
		{name: "candidate with sdp", sig: Signal{Kind: KindICECandidate, RoomID: "r", SenderID: "a", SDP: "v=0", Candidate: cand}, wantErr: true},
		{name: "unknown kind", sig: Signal{Kind: "bye", RoomID: "r", SenderID: "a"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sig.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSignal)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSignalDescriptionConversion(t *testing.T) {
	sig, err := FromDescription("room", "a", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	require.NoError(t, err)
	assert.Equal(t, KindAnswer, sig.Kind)
	assert.True(t, sig.LoadBearing())

	desc, err := sig.SessionDescription()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, desc.Type)

	_, err = FromDescription("room", "a", webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
	assert.ErrorIs(t, err, ErrInvalidSignal)

	ice := FromCandidate("room", "a", webrtc.ICECandidateInit{Candidate: "c"})
	assert.False(t, ice.LoadBearing())
	_, err = ice.SessionDescription()
	assert.ErrorIs(t, err, ErrInvalidSignal)
}

func TestSignalWireFormat(t *testing.T) {
	mid := "0"
	idx := uint16(0)
	sig := FromCandidate("room-1", "alice", webrtc.ICECandidateInit{
		Candidate:     "candidate:1 1 udp 1 10.0.0.1 5000 typ host",
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	})

	raw, err := json.Marshal(sig)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Equal(t, "ice-candidate", wire["kind"])
	assert.Equal(t, "room-1", wire["room_id"])
	assert.Equal(t, "alice", wire["sender_id"])
	assert.NotContains(t, wire, "sdp")

	cand, ok := wire["candidate"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "candidate:1 1 udp 1 10.0.0.1 5000 typ host", cand["candidate"])
	assert.Equal(t, "0", cand["sdpMid"])
	assert.Equal(t, float64(0), cand["sdpMLineIndex"])
}

func TestMessageDecode(t *testing.T) {
	msg, err := NewMessage(MessageTypeOnlineCount, "", OnlineCountPayload{Count: 3})
	require.NoError(t, err)

	var p OnlineCountPayload
	require.NoError(t, msg.Decode(&p))
	assert.Equal(t, 3, p.Count)

	empty, err := NewMessage(MessageTypePending, "", nil)
	require.NoError(t, err)
	assert.Error(t, empty.Decode(&p))
}
