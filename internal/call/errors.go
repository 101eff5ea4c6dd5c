package call

import (
	"errors"
	"fmt"
)

var (
	ErrNegotiationFailed      = errors.New("negotiation failed")
	ErrMediaAcquisitionFailed = errors.New("media acquisition failed")
	ErrCallEnded              = errors.New("call ended")
	ErrInvalidTransition      = errors.New("invalid call state transition")
	ErrRoomEnded              = errors.New("room ended")
	ErrChatNotOpen            = errors.New("chat channel not open")
)

// Error records the call operation that failed.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// negotiationError marks err as fatal to the negotiation while keeping the
// underlying cause reachable through errors.Is.
func negotiationError(op string, err error) *Error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %w", ErrNegotiationFailed, err)}
}
