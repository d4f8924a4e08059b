// Package dedup remembers provider message ids so a redelivered update is
// processed once even before it reaches the ledger.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Store claims message keys for a bounded window.
type Store interface {
	// Claim returns true when key was not seen within the window.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a later redelivery is processed again.
	Release(ctx context.Context, key string) error
}

type memoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	seen    map[string]time.Time
	now     func() time.Time
	lastGC  time.Time
	gcEvery time.Duration
}

// NewMemory returns a process-local store. Expired keys are swept lazily.
func NewMemory(ttl time.Duration) Store {
	return newMemory(ttl, time.Now)
}

func newMemory(ttl time.Duration, now func() time.Time) *memoryStore {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	gc := ttl / 4
	if gc > time.Minute {
		gc = time.Minute
	}
	return &memoryStore{ttl: ttl, seen: make(map[string]time.Time), now: now, gcEvery: gc}
}

func (m *memoryStore) Claim(_ context.Context, key string) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.lastGC) >= m.gcEvery {
		for k, ts := range m.seen {
			if now.Sub(ts) > m.ttl {
				delete(m.seen, k)
			}
		}
		m.lastGC = now
	}
	if ts, ok := m.seen[key]; ok && now.Sub(ts) <= m.ttl {
		return false, nil
	}
	m.seen[key] = now
	return true, nil
}

func (m *memoryStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.seen, key)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}
