package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BioHazard786/Tandem/internal/matchmaking"
	"github.com/BioHazard786/Tandem/internal/metrics"
)

var (
	ErrDeliveryFailed     = errors.New("signaling delivery failed")
	ErrSubscriptionClosed = errors.New("subscription closed")
)

const (
	DefaultMailboxSize         = 64
	DefaultMaxDeliveryAttempts = 5
	DefaultRetryBackoff        = 200 * time.Millisecond
)

// RoomDirectory resolves room membership for the relay.
type RoomDirectory interface {
	Room(roomID string) (matchmaking.Room, error)
}

// RelayOptions configures a Relay. Zero values select defaults.
type RelayOptions struct {
	MailboxSize         int
	MaxDeliveryAttempts int
	RetryBackoff        time.Duration
	Metrics             *metrics.Metrics
	Logger              *slog.Logger
}

// Relay moves signals between the two members of a room.
//
// Each room has its own bus and lock; the registry lock is only held to find
// or drop a bus, so unrelated rooms never wait on each other.
type Relay struct {
	dir RoomDirectory

	mu    sync.RWMutex
	rooms map[string]*roomBus

	mailbox  int
	attempts int
	backoff  time.Duration
	metrics  *metrics.Metrics
	log      *slog.Logger
}

type roomBus struct {
	id     string
	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool

	// detached is set once the bus has left the registry; a new bus must
	// be fetched for the room.
	detached bool
}

// Subscription receives the signals other peers send to a room.
type Subscription struct {
	ID     string
	RoomID string
	PeerID string

	relay *Relay
	bus   *roomBus
	ch    chan Signal
	done  chan struct{}
	once  sync.Once
}

func NewRelay(dir RoomDirectory, opts RelayOptions) *Relay {
	r := &Relay{
		dir:      dir,
		rooms:    make(map[string]*roomBus),
		mailbox:  opts.MailboxSize,
		attempts: opts.MaxDeliveryAttempts,
		backoff:  opts.RetryBackoff,
		metrics:  opts.Metrics,
		log:      opts.Logger,
	}
	if r.mailbox <= 0 {
		r.mailbox = DefaultMailboxSize
	}
	if r.attempts <= 0 {
		r.attempts = DefaultMaxDeliveryAttempts
	}
	if r.backoff <= 0 {
		r.backoff = DefaultRetryBackoff
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Subscribe opens delivery of roomID's future signals to selfID. Signals
// selfID sends are never delivered back to it. Subscribing again replaces
// the previous subscription of the same peer.
func (r *Relay) Subscribe(roomID, selfID string) (*Subscription, error) {
	var bus *roomBus
	for {
		bus = r.busFor(roomID)
		bus.mu.Lock()
		if !bus.detached {
			break
		}
		bus.mu.Unlock()
	}

	if bus.closed {
		bus.mu.Unlock()
		return nil, matchmaking.ErrRoomInactive
	}

	room, err := r.dir.Room(roomID)
	if err == nil && !room.Has(selfID) {
		err = matchmaking.ErrNotRoomMember
	}
	if err == nil && !room.Active {
		err = matchmaking.ErrRoomInactive
	}
	if err != nil {
		bus.mu.Unlock()
		r.dropIfEmpty(bus)
		return nil, err
	}

	sub := &Subscription{
		ID:     uuid.NewString(),
		RoomID: roomID,
		PeerID: selfID,
		relay:  r,
		bus:    bus,
		ch:     make(chan Signal, r.mailbox),
		done:   make(chan struct{}),
	}
	if old, ok := bus.subs[selfID]; ok {
		old.closeLocked()
	}
	bus.subs[selfID] = sub
	bus.mu.Unlock()

	r.log.Debug("peer subscribed", "room", roomID, "peer", selfID, "subscription", sub.ID)
	return sub, nil
}

// Send delivers sig to the other subscribers of its room, in the order the
// sender calls Send. Offers and answers are retried with a growing backoff
// while the recipient is not subscribed or its mailbox is full; candidates
// get a single attempt.
func (r *Relay) Send(ctx context.Context, sig Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}

	room, err := r.dir.Room(sig.RoomID)
	if err != nil {
		return err
	}
	if !room.Has(sig.SenderID) {
		return matchmaking.ErrNotRoomMember
	}
	if !room.Active {
		return matchmaking.ErrRoomInactive
	}

	attempts := 1
	if sig.LoadBearing() {
		attempts = r.attempts
	}

	for attempt := 1; ; attempt++ {
		delivered, err := r.deliver(sig)
		if err != nil {
			return err
		}
		if delivered {
			r.metrics.Inc(metrics.SignalRelayed)
			return nil
		}
		if attempt >= attempts {
			break
		}

		r.metrics.Inc(metrics.SignalRetried)
		r.log.Debug("signal not delivered, retrying",
			"room", sig.RoomID, "kind", sig.Kind, "attempt", attempt)

		timer := time.NewTimer(time.Duration(attempt) * r.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if sig.LoadBearing() {
		r.metrics.Inc(metrics.SignalDeliveryFailed)
	} else {
		r.metrics.Inc(metrics.SignalDropped)
	}
	return fmt.Errorf("%w: %s for room %s", ErrDeliveryFailed, sig.Kind, sig.RoomID)
}

// Unsubscribe stops delivery to sub. It is safe to call more than once.
func (r *Relay) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	bus := sub.bus
	bus.mu.Lock()
	if bus.subs[sub.PeerID] == sub {
		delete(bus.subs, sub.PeerID)
	}
	sub.closeLocked()
	bus.mu.Unlock()

	r.dropIfEmpty(bus)
}

// CloseRoom unsubscribes every subscriber of roomID and refuses new ones.
// It returns how many subscriptions were closed.
func (r *Relay) CloseRoom(roomID string) int {
	r.mu.Lock()
	bus, ok := r.rooms[roomID]
	delete(r.rooms, roomID)
	r.mu.Unlock()
	if !ok {
		return 0
	}

	bus.mu.Lock()
	bus.closed = true
	bus.detached = true
	n := len(bus.subs)
	for peer, sub := range bus.subs {
		sub.closeLocked()
		delete(bus.subs, peer)
	}
	bus.mu.Unlock()

	r.log.Debug("room relay closed", "room", roomID, "subscriptions", n)
	return n
}

// Subscribers lists the peers currently subscribed to roomID.
func (r *Relay) Subscribers(roomID string) []string {
	r.mu.RLock()
	bus, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	bus.mu.Lock()
	peers := make([]string, 0, len(bus.subs))
	for peer := range bus.subs {
		peers = append(peers, peer)
	}
	bus.mu.Unlock()

	sort.Strings(peers)
	return peers
}

func (r *Relay) deliver(sig Signal) (bool, error) {
	r.mu.RLock()
	bus, ok := r.rooms[sig.RoomID]
	r.mu.RUnlock()
	if !ok {
		return false, nil
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()

	if bus.closed {
		return false, matchmaking.ErrRoomInactive
	}

	delivered := false
	for peer, sub := range bus.subs {
		if peer == sig.SenderID {
			continue
		}
		select {
		case sub.ch <- sig:
			delivered = true
		default:
			r.log.Warn("subscriber mailbox full", "room", sig.RoomID, "peer", peer, "kind", sig.Kind)
		}
	}
	return delivered, nil
}

func (r *Relay) busFor(roomID string) *roomBus {
	r.mu.Lock()
	defer r.mu.Unlock()

	bus, ok := r.rooms[roomID]
	if !ok {
		bus = &roomBus{id: roomID, subs: make(map[string]*Subscription)}
		r.rooms[roomID] = bus
	}
	return bus
}

func (r *Relay) dropIfEmpty(bus *roomBus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bus.mu.Lock()
	defer bus.mu.Unlock()

	if len(bus.subs) == 0 && r.rooms[bus.id] == bus {
		bus.detached = true
		delete(r.rooms, bus.id)
	}
}

// Done is closed once the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Receive blocks for the next signal, ctx expiry, or the end of the subscription.
func (s *Subscription) Receive(ctx context.Context) (Signal, error) {
	select {
	case <-s.done:
		return Signal{}, ErrSubscriptionClosed
	default:
	}

	select {
	case sig := <-s.ch:
		select {
		case <-s.done:
			return Signal{}, ErrSubscriptionClosed
		default:
			return sig, nil
		}
	case <-s.done:
		return Signal{}, ErrSubscriptionClosed
	case <-ctx.Done():
		return Signal{}, ctx.Err()
	}
}

func (s *Subscription) Close() {
	s.relay.Unsubscribe(s)
}

// closeLocked must be called with the bus lock held.
func (s *Subscription) closeLocked() {
	s.once.Do(func() {
		close(s.done)
		for {
			select {
			case <-s.ch:
			default:
				return
			}
		}
	})
}
