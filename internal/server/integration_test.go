package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/Tandem/internal/matchmaking"
	"github.com/BioHazard786/Tandem/internal/metrics"
	"github.com/BioHazard786/Tandem/internal/presence"
	"github.com/BioHazard786/Tandem/internal/signaling"
)

type testServer struct {
	*httptest.Server
	hub     *signaling.Hub
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	m := metrics.New()
	store := presence.NewMemory()
	mm := matchmaking.New(matchmaking.Options{
		Presence:      store,
		RetryInterval: 50 * time.Millisecond,
		Metrics:       m,
	})
	relay := signaling.NewRelay(mm, signaling.RelayOptions{
		RetryBackoff: 10 * time.Millisecond,
		Metrics:      m,
	})
	hub := signaling.NewHub(signaling.HubOptions{
		Matchmaker: mm,
		Relay:      relay,
		Presence:   store,
		Metrics:    m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(Options{Hub: hub, Metrics: m}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{Server: srv, hub: hub, metrics: m}
}

func (s *testServer) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	u, err := url.Parse(s.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = url.Values{"user_id": {userID}}.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType, roomID string, payload any) {
	t.Helper()
	msg, err := signaling.NewMessage(msgType, roomID, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func expect(t *testing.T, conn *websocket.Conn, msgType string) *signaling.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg signaling.Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equalf(t, msgType, msg.Type, "unexpected message: %s", string(msg.Payload))
	return &msg
}

func TestEndToEnd_MatchSignalAndEnd(t *testing.T) {
	srv := newTestServer(t)

	alice := srv.dial(t, "alice")
	bob := srv.dial(t, "bob")

	send(t, alice, signaling.MessageTypeFindMatch, "", nil)
	expect(t, alice, signaling.MessageTypePending)

	send(t, bob, signaling.MessageTypeFindMatch, "", nil)
	var bobMatch signaling.MatchedPayload
	require.NoError(t, expect(t, bob, signaling.MessageTypeMatched).Decode(&bobMatch))

	var aliceMatch signaling.MatchedPayload
	require.NoError(t, expect(t, alice, signaling.MessageTypeMatched).Decode(&aliceMatch))

	room := bobMatch.Room
	assert.Equal(t, room.ID, aliceMatch.Room.ID)
	assert.Equal(t, "bob", room.PeerA)
	assert.Equal(t, "alice", room.PeerB)
	assert.Zero(t, srv.hub.Stats().Waiting)

	send(t, alice, signaling.MessageTypeSubscribe, room.ID, nil)
	expect(t, alice, signaling.MessageTypeSubscribed)
	send(t, bob, signaling.MessageTypeSubscribe, room.ID, nil)
	expect(t, bob, signaling.MessageTypeSubscribed)

	// The initiator's offer reaches the responder with the sender stamped by the server.
	send(t, bob, signaling.MessageTypeSignal, room.ID, signaling.Signal{
		Kind: signaling.KindOffer, SenderID: "spoofed", SDP: "v=0 offer",
	})
	var got signaling.Signal
	require.NoError(t, expect(t, alice, signaling.MessageTypeSignal).Decode(&got))
	assert.Equal(t, signaling.KindOffer, got.Kind)
	assert.Equal(t, "bob", got.SenderID)
	assert.Equal(t, room.ID, got.RoomID)

	send(t, alice, signaling.MessageTypeSignal, room.ID, signaling.Signal{Kind: signaling.KindAnswer, SDP: "v=0 answer"})
	send(t, alice, signaling.MessageTypeSignal, room.ID, signaling.FromCandidate(room.ID, "alice",
		webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"}))

	require.NoError(t, expect(t, bob, signaling.MessageTypeSignal).Decode(&got))
	assert.Equal(t, signaling.KindAnswer, got.Kind)
	require.NoError(t, expect(t, bob, signaling.MessageTypeSignal).Decode(&got))
	assert.Equal(t, signaling.KindICECandidate, got.Kind)

	send(t, alice, signaling.MessageTypeEndRoom, room.ID, nil)

	var ended signaling.RoomEndedPayload
	require.NoError(t, expect(t, alice, signaling.MessageTypeRoomEnded).Decode(&ended))
	assert.False(t, ended.Room.Active)
	assert.Equal(t, "alice", ended.Room.EndedBy)
	require.NoError(t, expect(t, bob, signaling.MessageTypeRoomEnded).Decode(&ended))
	assert.False(t, ended.Room.Active)

	// Ending twice is a no-op; signaling into the ended room is refused.
	send(t, bob, signaling.MessageTypeEndRoom, room.ID, nil)
	send(t, bob, signaling.MessageTypeSignal, room.ID, signaling.Signal{Kind: signaling.KindOffer, SDP: "v=0"})
	var errPayload signaling.ErrorPayload
	require.NoError(t, expect(t, bob, signaling.MessageTypeError).Decode(&errPayload))
	assert.Equal(t, signaling.CodeRoomInactive, errPayload.Code)
	assert.Equal(t, signaling.KindOffer, errPayload.Kind)

	assert.Equal(t, uint64(1), srv.metrics.Get(metrics.RoomEnded))
}

func TestWithdrawWhilePending(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.dial(t, "alice")

	send(t, alice, signaling.MessageTypeFindMatch, "", nil)
	expect(t, alice, signaling.MessageTypePending)

	send(t, alice, signaling.MessageTypeFindMatch, "", nil)
	var errPayload signaling.ErrorPayload
	require.NoError(t, expect(t, alice, signaling.MessageTypeError).Decode(&errPayload))
	assert.Equal(t, signaling.CodeAlreadyWaiting, errPayload.Code)

	send(t, alice, signaling.MessageTypeWithdraw, "", nil)
	expect(t, alice, signaling.MessageTypeWithdrawn)
	assert.Zero(t, srv.hub.Stats().Waiting)

	// A fresh search after withdrawing behaves like the first one.
	send(t, alice, signaling.MessageTypeFindMatch, "", nil)
	expect(t, alice, signaling.MessageTypePending)
}

func TestDisconnectEndsRoomForPeer(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.dial(t, "alice")
	bob := srv.dial(t, "bob")

	send(t, alice, signaling.MessageTypeFindMatch, "", nil)
	expect(t, alice, signaling.MessageTypePending)
	send(t, bob, signaling.MessageTypeFindMatch, "", nil)
	expect(t, bob, signaling.MessageTypeMatched)
	expect(t, alice, signaling.MessageTypeMatched)

	require.NoError(t, bob.Close())

	var ended signaling.RoomEndedPayload
	require.NoError(t, expect(t, alice, signaling.MessageTypeRoomEnded).Decode(&ended))
	assert.Equal(t, "bob", ended.Room.EndedBy)

	require.Eventually(t, func() bool { return srv.hub.Stats().Online == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeToForeignRoomRejected(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.dial(t, "alice")
	bob := srv.dial(t, "bob")
	mallory := srv.dial(t, "mallory")

	send(t, alice, signaling.MessageTypeFindMatch, "", nil)
	expect(t, alice, signaling.MessageTypePending)
	send(t, bob, signaling.MessageTypeFindMatch, "", nil)
	var matched signaling.MatchedPayload
	require.NoError(t, expect(t, bob, signaling.MessageTypeMatched).Decode(&matched))

	send(t, mallory, signaling.MessageTypeSubscribe, matched.Room.ID, nil)
	var errPayload signaling.ErrorPayload
	require.NoError(t, expect(t, mallory, signaling.MessageTypeError).Decode(&errPayload))
	assert.Equal(t, signaling.CodeNotRoomMember, errPayload.Code)

	send(t, mallory, signaling.MessageTypeSubscribe, "made-up-room", nil)
	require.NoError(t, expect(t, mallory, signaling.MessageTypeError).Decode(&errPayload))
	assert.Equal(t, signaling.CodeRoomNotFound, errPayload.Code)
}

func TestOnlineCountAndStats(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.dial(t, "alice")
	srv.dial(t, "bob")
	require.Eventually(t, func() bool { return srv.hub.Stats().Online == 2 }, 2*time.Second, 10*time.Millisecond)

	send(t, alice, signaling.MessageTypeOnlineCount, "", nil)
	var count signaling.OnlineCountPayload
	require.NoError(t, expect(t, alice, signaling.MessageTypeOnlineCount).Decode(&count))
	assert.Equal(t, 2, count.Count)

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var stats signaling.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, 2, stats.Online)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body strings.Builder
	_, err = io.Copy(&body, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "tandem_online_users 2")
	assert.Contains(t, body.String(), `tandem_events_total{event="connection_opened"} 2`)
}

func TestDuplicateConnectionRejected(t *testing.T) {
	srv := newTestServer(t)
	srv.dial(t, "alice")
	dup := srv.dial(t, "alice")

	require.NoError(t, dup.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := dup.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	assert.Equal(t, uint64(1), srv.metrics.Get(metrics.ConnectionRejected))
}

func TestMissingUserIDRejected(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownMessageType(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.dial(t, "alice")

	send(t, alice, "dance", "", nil)
	var errPayload signaling.ErrorPayload
	require.NoError(t, expect(t, alice, signaling.MessageTypeError).Decode(&errPayload))
	assert.Equal(t, signaling.CodeBadRequest, errPayload.Code)
}
