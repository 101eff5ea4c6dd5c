package call

import (
	"fmt"
	"sync"
	"time"
)

type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Event int

const (
	// EventConnected is fired when the peer connection connects or the first
	// remote media arrives.
	EventConnected Event = iota
	EventDisconnected
	// EventRoomEnded is fired when the room becomes inactive.
	EventRoomEnded
	EventHangup
	EventFailed
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventRoomEnded:
		return "room_ended"
	case EventHangup:
		return "hangup"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// Transition is published on Machine.Changes for every state change.
type Transition struct {
	From  State
	To    State
	Event Event
	At    time.Time
}

const changesBuffer = 16

// Machine tracks one local peer's call lifecycle.
type Machine struct {
	mu          sync.Mutex
	state       State
	endedBy     Event
	err         error
	connectedAt time.Time
	connected   time.Duration

	changes chan Transition
	done    chan struct{}
	now     func() time.Time
}

func NewMachine() *Machine {
	return &Machine{
		state:   StateConnecting,
		changes: make(chan Transition, changesBuffer),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Changes delivers transitions to a single consumer. It is closed once the
// machine reaches StateEnded. Transitions are dropped if the consumer falls
// behind; State is always authoritative.
func (m *Machine) Changes() <-chan Transition {
	return m.changes
}

// Done is closed when the call has ended.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Fire applies ev. Repeating the current state is a no-op; firing anything
// after the call has ended returns ErrCallEnded.
func (m *Machine) Fire(ev Event) (State, error) {
	return m.fire(ev, nil)
}

// Fail ends the call with cause. Err reports it afterwards.
func (m *Machine) Fail(cause error) (State, error) {
	return m.fire(EventFailed, cause)
}

func (m *Machine) fire(ev Event, cause error) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if from == StateEnded {
		return from, ErrCallEnded
	}

	to, err := next(from, ev)
	if err != nil {
		return from, err
	}
	if to == from {
		return from, nil
	}

	now := m.now()
	if from == StateConnected {
		m.connected += now.Sub(m.connectedAt)
	}
	if to == StateConnected {
		m.connectedAt = now
	}
	m.state = to

	select {
	case m.changes <- Transition{From: from, To: to, Event: ev, At: now}:
	default:
	}

	if to == StateEnded {
		m.endedBy = ev
		m.err = cause
		close(m.changes)
		close(m.done)
	}
	return to, nil
}

func next(from State, ev Event) (State, error) {
	switch ev {
	case EventRoomEnded, EventHangup, EventFailed:
		return StateEnded, nil
	case EventConnected:
		return StateConnected, nil
	case EventDisconnected:
		if from == StateConnecting {
			return from, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev, from)
		}
		return StateDisconnected, nil
	default:
		return from, fmt.Errorf("%w: unknown %s", ErrInvalidTransition, ev)
	}
}

// EndedBy reports the event that ended the call.
func (m *Machine) EndedBy() (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endedBy, m.state == StateEnded
}

// Err returns the failure that ended the call, if any.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Duration is the total time spent connected.
func (m *Machine) Duration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.connected
	if m.state == StateConnected {
		d += m.now().Sub(m.connectedAt)
	}
	return d
}
