package matchmaking

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

var (
	ErrQueueConflict = errors.New("queue entry already claimed")
	ErrNotWaiting    = errors.New("user is not waiting")
)

// Entry is one waiting user.
type Entry struct {
	UserID     string    `json:"user_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is the set of users waiting for a partner, oldest first.
// Each user appears at most once.
type Queue struct {
	mu    sync.Mutex
	order *list.List
	index map[string]*list.Element
	now   func() time.Time
}

func NewQueue() *Queue {
	return &Queue{
		order: list.New(),
		index: make(map[string]*list.Element),
		now:   time.Now,
	}
}

// Enqueue adds userID or, when already present, moves it to the back with a
// fresh timestamp.
func (q *Queue) Enqueue(userID string) Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if el, ok := q.index[userID]; ok {
		q.order.Remove(el)
	}
	e := &Entry{UserID: userID, EnqueuedAt: q.now()}
	q.index[userID] = q.order.PushBack(e)
	return *e
}

// TryMatch removes userID together with the oldest other waiting user and
// returns that user. When nobody else waits, userID stays queued.
func (q *Queue) TryMatch(userID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	self, ok := q.index[userID]
	if !ok {
		return "", false
	}

	for el := q.order.Front(); el != nil; el = el.Next() {
		if el == self {
			continue
		}
		other := el.Value.(*Entry).UserID
		q.removeLocked(el)
		q.removeLocked(self)
		return other, true
	}
	return "", false
}

// Claim removes both userID and otherID in one step. It fails with
// ErrQueueConflict when otherID is no longer waiting and with ErrNotWaiting
// when userID itself is gone; in both cases the queue is left untouched.
func (q *Queue) Claim(userID, otherID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	self, ok := q.index[userID]
	if !ok {
		return ErrNotWaiting
	}
	other, ok := q.index[otherID]
	if !ok || other == self {
		return ErrQueueConflict
	}
	q.removeLocked(other)
	q.removeLocked(self)
	return nil
}

// Withdraw removes userID if it is waiting.
func (q *Queue) Withdraw(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	el, ok := q.index[userID]
	if !ok {
		return false
	}
	q.removeLocked(el)
	return true
}

func (q *Queue) Contains(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[userID]
	return ok
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

// Candidates lists every waiting user except excluding, oldest first.
func (q *Queue) Candidates(excluding string) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, 0, q.order.Len())
	for el := q.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if e.UserID == excluding {
			continue
		}
		out = append(out, *e)
	}
	return out
}

// Entries returns a snapshot of the queue, oldest first.
func (q *Queue) Entries() []Entry {
	return q.Candidates("")
}

func (q *Queue) removeLocked(el *list.Element) {
	e := q.order.Remove(el).(*Entry)
	delete(q.index, e.UserID)
}
