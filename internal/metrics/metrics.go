package metrics

import "sync"

// Event names shared by the server components.
const (
	ConnectionOpened   = "connection_opened"
	ConnectionClosed   = "connection_closed"
	ConnectionRejected = "connection_rejected"

	QueueEnqueued  = "queue_enqueued"
	QueueWithdrawn = "queue_withdrawn"
	QueueConflict  = "queue_conflict"
	QueueEvicted   = "queue_evicted"

	RoomCreated = "room_created"
	RoomEnded   = "room_ended"
	RoomPruned  = "room_pruned"

	SignalRelayed        = "signal_relayed"
	SignalRetried        = "signal_retried"
	SignalDropped        = "signal_dropped"
	SignalDeliveryFailed = "signal_delivery_failed"

	RateLimited = "rate_limited"
)

// Metrics is a concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

// Inc is safe to call on a nil registry.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
