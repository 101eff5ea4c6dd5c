package presence

import (
	"sort"
	"sync"
	"time"
)

// Store tracks which users are currently reachable.
type Store interface {
	IsOnline(userID string) bool
	SetOnline(userID string, online bool)
	Count() int
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	online map[string]time.Time
	now    func() time.Time
}

// NewMemory creates an empty in-memory presence store.
func NewMemory() *Memory {
	return &Memory{
		online: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (m *Memory) IsOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.online[userID]
	return ok
}

// SetOnline flips a user's presence. Marking an online user online again
// keeps the original timestamp.
func (m *Memory) SetOnline(userID string, online bool) {
	if userID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !online {
		delete(m.online, userID)
		return
	}
	if _, ok := m.online[userID]; !ok {
		m.online[userID] = m.now()
	}
}

func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.online)
}

// Since reports when the user came online.
func (m *Memory) Since(userID string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.online[userID]
	return t, ok
}

// Users returns the online user ids in sorted order.
func (m *Memory) Users() []string {
	m.mu.RLock()
	users := make([]string, 0, len(m.online))
	for id := range m.online {
		users = append(users, id)
	}
	m.mu.RUnlock()

	sort.Strings(users)
	return users
}
