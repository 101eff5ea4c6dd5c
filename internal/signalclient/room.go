package signalclient

import (
	"context"
	"errors"
	"sync"

	"github.com/BioHazard786/Tandem/internal/call"
	"github.com/BioHazard786/Tandem/internal/matchmaking"
	"github.com/BioHazard786/Tandem/internal/signaling"
)

const signalBuffer = 256

// RoomTransport carries one room's signaling over the client connection.
type RoomTransport struct {
	client *Client
	room   matchmaking.Room

	signals chan *signaling.Message
	control chan *signaling.Message

	ended     chan struct{}
	endedOnce sync.Once
	final     matchmaking.Room
}

var _ call.Transport = (*RoomTransport)(nil)

func newRoomTransport(c *Client, room matchmaking.Room) *RoomTransport {
	return &RoomTransport{
		client:  c,
		room:    room,
		signals: make(chan *signaling.Message, signalBuffer),
		control: make(chan *signaling.Message, eventBuffer),
		ended:   make(chan struct{}),
	}
}

// deliver runs on the read pump.
func (t *RoomTransport) deliver(msg *signaling.Message) {
	ch := t.control
	if msg.Type == signaling.MessageTypeSignal || (msg.Type == signaling.MessageTypeError && isSignalError(msg)) {
		ch = t.signals
	}
	select {
	case ch <- msg:
	default:
		t.client.log.Warn("Room buffer full, dropping message", "room_id", t.room.ID, "type", msg.Type)
	}
}

func isSignalError(msg *signaling.Message) bool {
	var payload signaling.ErrorPayload
	return msg.Decode(&payload) == nil && payload.Kind != ""
}

func (t *RoomTransport) markEnded(room matchmaking.Room) {
	t.endedOnce.Do(func() {
		t.final = room
		close(t.ended)
	})
}

// Ended is closed once the server reports the room ended.
func (t *RoomTransport) Ended() <-chan struct{} {
	return t.ended
}

// FinalRoom returns the room as the server closed it.
func (t *RoomTransport) FinalRoom() (matchmaking.Room, bool) {
	select {
	case <-t.ended:
		return t.final, true
	default:
		return t.room, false
	}
}

func (t *RoomTransport) Subscribe(ctx context.Context) error {
	if err := t.client.send(signaling.MessageTypeSubscribe, t.room.ID, nil); err != nil {
		return err
	}

	for {
		select {
		case msg := <-t.control:
			switch msg.Type {
			case signaling.MessageTypeSubscribed:
				return nil
			case signaling.MessageTypeError:
				err := newServerError(msg)
				if errors.Is(err, matchmaking.ErrRoomInactive) {
					return call.ErrRoomEnded
				}
				return err
			}
		case <-t.ended:
			return call.ErrRoomEnded
		case <-ctx.Done():
			return ctx.Err()
		case <-t.client.readDone:
			return t.client.closedErr()
		}
	}
}

func (t *RoomTransport) Send(ctx context.Context, sig signaling.Signal) error {
	select {
	case <-t.ended:
		return call.ErrRoomEnded
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	sig.RoomID = t.room.ID
	return t.client.send(signaling.MessageTypeSignal, t.room.ID, sig)
}

// Receive returns the next signal from the peer. A server report that one of
// our offers or answers was not delivered is returned as an error.
func (t *RoomTransport) Receive(ctx context.Context) (signaling.Signal, error) {
	for {
		select {
		case msg := <-t.signals:
			if msg.Type == signaling.MessageTypeError {
				err := newServerError(msg)
				if errors.Is(err, matchmaking.ErrRoomInactive) {
					return signaling.Signal{}, call.ErrRoomEnded
				}
				if err.Kind == signaling.KindICECandidate {
					continue
				}
				return signaling.Signal{}, err
			}
			var sig signaling.Signal
			if err := msg.Decode(&sig); err != nil {
				t.client.log.Warn("Ignoring malformed signal", "error", err)
				continue
			}
			return sig, nil

		case <-t.ended:
			return signaling.Signal{}, call.ErrRoomEnded
		case <-ctx.Done():
			return signaling.Signal{}, ctx.Err()
		case <-t.client.readDone:
			return signaling.Signal{}, t.client.closedErr()
		}
	}
}

// EndRoom asks the server to end the room and waits for confirmation.
func (t *RoomTransport) EndRoom(ctx context.Context) error {
	select {
	case <-t.ended:
		return nil
	default:
	}
	if err := t.client.send(signaling.MessageTypeEndRoom, t.room.ID, nil); err != nil {
		return err
	}

	for {
		select {
		case <-t.ended:
			return nil
		case msg := <-t.control:
			if msg.Type != signaling.MessageTypeError {
				continue
			}
			err := newServerError(msg)
			if errors.Is(err, matchmaking.ErrRoomInactive) {
				return nil
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-t.client.readDone:
			return t.client.closedErr()
		}
	}
}

// Close unsubscribes if the room is still running and releases the transport.
func (t *RoomTransport) Close() {
	select {
	case <-t.ended:
	default:
		if err := t.client.send(signaling.MessageTypeUnsubscribe, t.room.ID, nil); err != nil {
			t.client.log.Debug("Unsubscribe not sent", "error", err)
		}
	}
	t.client.forget(t.room.ID)
}
