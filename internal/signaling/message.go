package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/BioHazard786/Tandem/internal/matchmaking"
)

// Message is the envelope for every websocket frame in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	RoomID  string          `json:"room_id,omitempty"`
}

// Client to server.
const (
	MessageTypeFindMatch   = "find_match"
	MessageTypeWithdraw    = "withdraw"
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypeSignal      = "signal"
	MessageTypeEndRoom     = "end_room"
	MessageTypeOnlineCount = "online_count"
)

// Server to client. MessageTypeSignal and MessageTypeOnlineCount are used in
// both directions.
const (
	MessageTypePending    = "pending"
	MessageTypeMatched    = "matched"
	MessageTypeWithdrawn  = "withdrawn"
	MessageTypeSubscribed = "subscribed"
	MessageTypeRoomEnded  = "room_ended"
	MessageTypeError      = "error"
)

// Error codes carried by ErrorPayload.
const (
	CodeBadRequest     = "bad_request"
	CodeRateLimited    = "rate_limited"
	CodeAlreadyWaiting = "already_waiting"
	CodeUserOffline    = "user_offline"
	CodeRoomNotFound   = "room_not_found"
	CodeRoomInactive   = "room_inactive"
	CodeNotRoomMember  = "not_room_member"
	CodeDeliveryFailed = "delivery_failed"
	CodeInternal       = "internal"
)

// MatchedPayload is sent to both peers when a room is created.
type MatchedPayload struct {
	Room matchmaking.Room `json:"room"`
}

// RoomEndedPayload is sent to both peers when a room closes.
type RoomEndedPayload struct {
	Room matchmaking.Room `json:"room"`
}

// OnlineCountPayload answers an online_count request.
type OnlineCountPayload struct {
	Count int `json:"count"`
}

// ErrorPayload reports a failed request.
type ErrorPayload struct {
	Code  string `json:"code"`
	Error string `json:"error"`

	// Kind is set when a signal could not be delivered.
	Kind Kind `json:"kind,omitempty"`
}

// NewMessage builds an envelope, encoding payload when it is not nil.
func NewMessage(msgType, roomID string, payload any) (*Message, error) {
	msg := &Message{Type: msgType, RoomID: roomID}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	msg.Payload = raw
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

func errorMessage(code, roomID string, err error) *Message {
	msg, _ := NewMessage(MessageTypeError, roomID, ErrorPayload{Code: code, Error: err.Error()})
	return msg
}
