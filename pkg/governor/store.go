package governor

import (
	"context"
	"sync"
	"time"
)

// Sample is one remote-reported quota observation.
type Sample struct {
	// Remaining is the number of requests the remote source reported
	// as left in the current rate window.
	Remaining int `json:"remaining"`

	// ObservedAt is when the observation was made.
	ObservedAt time.Time `json:"observed_at"`
}

// Age returns how old the sample is.
func (s Sample) Age() time.Duration {
	return time.Since(s.ObservedAt)
}

// Store holds the most recent quota observation. Implementations must
// be safe for concurrent use; the Redis-backed implementation shares
// the observation across processes.
type Store interface {
	// Put records a quota observation.
	Put(ctx context.Context, sample Sample) error

	// Latest returns the most recent observation. The second return
	// is false when no observation has been recorded yet.
	Latest(ctx context.Context) (Sample, bool, error)
}

// MemoryStore is the default in-process quota store.
type MemoryStore struct {
	mu     sync.RWMutex
	sample Sample
	seen   bool
}

// NewMemoryStore creates an empty in-process quota store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Put records a quota observation.
func (m *MemoryStore) Put(_ context.Context, sample Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sample = sample
	m.seen = true
	return nil
}

// Latest returns the most recent observation.
func (m *MemoryStore) Latest(_ context.Context) (Sample, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sample, m.seen, nil
}
