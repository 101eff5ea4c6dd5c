package matchmaking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/Tandem/internal/metrics"
	"github.com/BioHazard786/Tandem/internal/presence"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomInactive  = errors.New("room is no longer active")
	ErrNotRoomMember = errors.New("user is not a member of the room")
	ErrUserOffline   = errors.New("user is offline")
	ErrInvalidUser   = errors.New("user id is required")
)

const (
	// DefaultRetryInterval is how often a pending search re-checks the queue
	// when no notification arrives.
	DefaultRetryInterval = 2 * time.Second

	// DefaultMaxClaimAttempts bounds retries after losing a claim race.
	DefaultMaxClaimAttempts = 8
)

// Options configures a Matchmaker. Zero values select defaults.
type Options struct {
	// Presence filters candidates to online users. Nil matches everyone.
	Presence presence.Store

	RetryInterval    time.Duration
	MaxClaimAttempts int
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
	Now              func() time.Time
}

// Stats is a point-in-time summary of the matchmaker.
type Stats struct {
	Waiting     int `json:"waiting"`
	ActiveRooms int `json:"active_rooms"`
	EndedRooms  int `json:"ended_rooms"`
}

// Matchmaker pairs waiting users into rooms and owns room lifecycle.
//
// A single mutex covers the queue and the room registry, so removing both
// users from the queue and creating their room is one atomic step. Presence
// lookups happen outside of it.
type Matchmaker struct {
	mu      sync.Mutex
	queue   *Queue
	rooms   map[string]*Room
	active  map[string]string
	waiters map[string]chan struct{}
	hooks   []func(Room)

	presence  presence.Store
	retry     time.Duration
	maxClaims int
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
}

func New(opts Options) *Matchmaker {
	m := &Matchmaker{
		queue:     NewQueue(),
		rooms:     make(map[string]*Room),
		active:    make(map[string]string),
		waiters:   make(map[string]chan struct{}),
		presence:  opts.Presence,
		retry:     opts.RetryInterval,
		maxClaims: opts.MaxClaimAttempts,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		now:       opts.Now,
	}
	if m.retry <= 0 {
		m.retry = DefaultRetryInterval
	}
	if m.maxClaims <= 0 {
		m.maxClaims = DefaultMaxClaimAttempts
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.queue.now = m.now
	return m
}

// OnRoomEnded registers fn to run once for every room that ends. Hooks run
// outside the matchmaker lock.
func (m *Matchmaker) OnRoomEnded(fn func(Room)) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// FindMatch enqueues userID and tries to pair it with the oldest other
// waiting user. When it returns matched=false the user stays queued.
// A user who already has an active room gets that room back.
func (m *Matchmaker) FindMatch(userID string) (Room, bool, error) {
	if userID == "" {
		return Room{}, false, ErrInvalidUser
	}
	if m.presence != nil && !m.presence.IsOnline(userID) {
		return Room{}, false, ErrUserOffline
	}

	m.mu.Lock()
	if room, ok := m.activeRoomLocked(userID); ok {
		m.mu.Unlock()
		return room, true, nil
	}
	m.queue.Enqueue(userID)
	m.mu.Unlock()

	m.metrics.Inc(metrics.QueueEnqueued)
	m.log.Debug("user enqueued", "user", userID)

	return m.match(userID)
}

// AwaitMatch blocks until the already queued userID is matched, withdrawn
// or ctx ends. On cancellation the queue entry is removed; if a match won
// the race the room stands and is returned without error.
func (m *Matchmaker) AwaitMatch(ctx context.Context, userID string) (Room, error) {
	wake := m.addWaiter(userID)
	defer m.removeWaiter(userID, wake)

	ticker := time.NewTicker(m.retry)
	defer ticker.Stop()

	for {
		room, ok, err := m.match(userID)
		if err != nil || ok {
			return room, err
		}

		select {
		case <-ctx.Done():
			return m.abandon(userID, ctx.Err())
		case <-wake:
		case <-ticker.C:
		}
	}
}

// WaitForMatch is FindMatch followed by AwaitMatch when no partner was
// available right away.
func (m *Matchmaker) WaitForMatch(ctx context.Context, userID string) (Room, error) {
	room, ok, err := m.FindMatch(userID)
	if err != nil || ok {
		return room, err
	}
	return m.AwaitMatch(ctx, userID)
}

// Withdraw removes userID from the queue. It is a no-op once matched.
func (m *Matchmaker) Withdraw(userID string) bool {
	m.mu.Lock()
	ok := m.queue.Withdraw(userID)
	if ok {
		m.notifyLocked(userID)
	}
	m.mu.Unlock()

	if ok {
		m.metrics.Inc(metrics.QueueWithdrawn)
		m.log.Debug("user withdrawn", "user", userID)
	}
	return ok
}

// EndRoom closes roomID on behalf of one of its members. Ending an already
// ended room returns it unchanged.
func (m *Matchmaker) EndRoom(roomID, requesterID string) (Room, error) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return Room{}, ErrRoomNotFound
	}
	if !room.Has(requesterID) {
		m.mu.Unlock()
		return Room{}, ErrNotRoomMember
	}
	if !room.Active {
		snapshot := *room
		m.mu.Unlock()
		return snapshot, nil
	}

	endedAt := m.now()
	room.Active = false
	room.EndedAt = &endedAt
	room.EndedBy = requesterID
	for _, peer := range []string{room.PeerA, room.PeerB} {
		if m.active[peer] == room.ID {
			delete(m.active, peer)
		}
	}
	snapshot := *room
	hooks := append([]func(Room){}, m.hooks...)
	m.mu.Unlock()

	m.metrics.Inc(metrics.RoomEnded)
	m.log.Info("room ended", "room", snapshot.ID, "ended_by", requesterID,
		"duration", endedAt.Sub(snapshot.CreatedAt).Round(time.Second))

	for _, fn := range hooks {
		fn(snapshot)
	}
	return snapshot, nil
}

// Room looks up a room by id, active or not.
func (m *Matchmaker) Room(roomID string) (Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	return *room, nil
}

// ActiveRoom returns the room userID is currently in.
func (m *Matchmaker) ActiveRoom(userID string) (Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeRoomLocked(userID)
}

// Waiting reports whether userID is queued.
func (m *Matchmaker) Waiting(userID string) bool {
	return m.queue.Contains(userID)
}

func (m *Matchmaker) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Waiting: m.queue.Len()}
	for _, r := range m.rooms {
		if r.Active {
			s.ActiveRooms++
		} else {
			s.EndedRooms++
		}
	}
	return s
}

// PruneEnded forgets rooms that ended more than olderThan ago.
func (m *Matchmaker) PruneEnded(olderThan time.Duration) int {
	cutoff := m.now().Add(-olderThan)

	m.mu.Lock()
	pruned := 0
	for id, r := range m.rooms {
		if !r.Active && r.EndedAt != nil && r.EndedAt.Before(cutoff) {
			delete(m.rooms, id)
			pruned++
		}
	}
	m.mu.Unlock()

	if pruned > 0 {
		m.metrics.Add(metrics.RoomPruned, uint64(pruned))
		m.log.Debug("pruned ended rooms", "count", pruned)
	}
	return pruned
}

// EvictOffline withdraws queued users the presence store reports offline.
func (m *Matchmaker) EvictOffline() int {
	if m.presence == nil {
		return 0
	}

	var offline []string
	for _, e := range m.queue.Entries() {
		if !m.presence.IsOnline(e.UserID) {
			offline = append(offline, e.UserID)
		}
	}
	if len(offline) == 0 {
		return 0
	}

	m.mu.Lock()
	evicted := 0
	for _, id := range offline {
		if m.queue.Withdraw(id) {
			m.notifyLocked(id)
			evicted++
		}
	}
	m.mu.Unlock()

	m.metrics.Add(metrics.QueueEvicted, uint64(evicted))
	return evicted
}

// match attempts to pair an already queued userID. It returns ErrNotWaiting
// when the user left the queue without getting a room.
func (m *Matchmaker) match(userID string) (Room, bool, error) {
	for attempt := 0; attempt < m.maxClaims; attempt++ {
		m.mu.Lock()
		if room, ok := m.activeRoomLocked(userID); ok {
			m.mu.Unlock()
			return room, true, nil
		}
		if !m.queue.Contains(userID) {
			m.mu.Unlock()
			return Room{}, false, ErrNotWaiting
		}
		if m.presence == nil {
			var room Room
			other, ok := m.queue.TryMatch(userID)
			if ok {
				room = m.createRoomLocked(userID, other)
			}
			m.mu.Unlock()
			return room, ok, nil
		}
		candidates := m.queue.Candidates(userID)
		m.mu.Unlock()

		other := m.firstOnline(candidates)
		if other == "" {
			return Room{}, false, nil
		}

		m.mu.Lock()
		err := m.queue.Claim(userID, other)
		if err == nil {
			room := m.createRoomLocked(userID, other)
			m.mu.Unlock()
			return room, true, nil
		}
		m.mu.Unlock()

		if errors.Is(err, ErrQueueConflict) {
			m.metrics.Inc(metrics.QueueConflict)
			m.log.Debug("lost claim race, retrying", "user", userID, "candidate", other, "attempt", attempt+1)
		}
	}
	return Room{}, false, nil
}

func (m *Matchmaker) firstOnline(candidates []Entry) string {
	for _, c := range candidates {
		if m.presence.IsOnline(c.UserID) {
			return c.UserID
		}
	}
	return ""
}

func (m *Matchmaker) abandon(userID string, cause error) (Room, error) {
	m.mu.Lock()
	if room, ok := m.activeRoomLocked(userID); ok {
		m.mu.Unlock()
		return room, nil
	}
	withdrawn := m.queue.Withdraw(userID)
	m.mu.Unlock()

	if withdrawn {
		m.metrics.Inc(metrics.QueueWithdrawn)
		m.log.Debug("search cancelled", "user", userID)
	}
	return Room{}, cause
}

func (m *Matchmaker) createRoomLocked(peerA, peerB string) Room {
	id := newRoomID(func(id string) bool {
		_, taken := m.rooms[id]
		return taken
	})
	room := &Room{
		ID:        id,
		PeerA:     peerA,
		PeerB:     peerB,
		CreatedAt: m.now(),
		Active:    true,
	}
	m.rooms[id] = room
	m.active[peerA] = id
	m.active[peerB] = id
	m.notifyLocked(peerA)
	m.notifyLocked(peerB)

	m.metrics.Inc(metrics.RoomCreated)
	m.log.Info("room created", "room", id, "peer_a", peerA, "peer_b", peerB)
	return *room
}

func (m *Matchmaker) activeRoomLocked(userID string) (Room, bool) {
	id, ok := m.active[userID]
	if !ok {
		return Room{}, false
	}
	room, ok := m.rooms[id]
	if !ok || !room.Active {
		return Room{}, false
	}
	return *room, true
}

func (m *Matchmaker) addWaiter(userID string) chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.waiters[userID] = ch
	m.mu.Unlock()
	return ch
}

func (m *Matchmaker) removeWaiter(userID string, ch chan struct{}) {
	m.mu.Lock()
	if m.waiters[userID] == ch {
		delete(m.waiters, userID)
	}
	m.mu.Unlock()
}

func (m *Matchmaker) notifyLocked(userID string) {
	ch, ok := m.waiters[userID]
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}
