package signalclient

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/Tandem/internal/matchmaking"
	"github.com/BioHazard786/Tandem/internal/signaling"
)

var (
	ErrClosed    = errors.New("signaling connection closed")
	ErrWithdrawn = errors.New("search withdrawn")
)

// ServerError is an error reported by the signaling server. It matches the
// package sentinels for its code through errors.Is.
type ServerError struct {
	Code    string
	Message string
	Kind    signaling.Kind
}

func newServerError(msg *signaling.Message) *ServerError {
	var payload signaling.ErrorPayload
	if err := msg.Decode(&payload); err != nil {
		return &ServerError{Code: signaling.CodeInternal, Message: err.Error()}
	}
	return &ServerError{Code: payload.Code, Message: payload.Error, Kind: payload.Kind}
}

func (e *ServerError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("server: %s %s: %s", e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("server: %s: %s", e.Code, e.Message)
}

func (e *ServerError) Is(target error) bool {
	switch e.Code {
	case signaling.CodeRoomNotFound:
		return target == matchmaking.ErrRoomNotFound
	case signaling.CodeRoomInactive:
		return target == matchmaking.ErrRoomInactive
	case signaling.CodeNotRoomMember:
		return target == matchmaking.ErrNotRoomMember
	case signaling.CodeUserOffline:
		return target == matchmaking.ErrUserOffline
	case signaling.CodeDeliveryFailed:
		return target == signaling.ErrDeliveryFailed
	}
	return false
}
