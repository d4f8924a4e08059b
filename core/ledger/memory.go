package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/m3rciful/onboardbot/core/user"
)

type memoryLedger struct {
	mu      sync.RWMutex
	records map[user.SenderID]user.Record
	now     func() time.Time
}

// NewMemory constructs an in-process Ledger for tests and development.
func NewMemory() Ledger {
	return newMemory(time.Now)
}

func newMemory(now func() time.Time) *memoryLedger {
	return &memoryLedger{
		records: make(map[user.SenderID]user.Record),
		now:     now,
	}
}

// GetOrCreate returns the existing record or stores a new one under the write lock.
func (m *memoryLedger) GetOrCreate(_ context.Context, id user.SenderID, seed user.Identity) (user.Record, bool, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()
	if ok {
		return rec, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have created it between the two locks.
	if rec, ok := m.records[id]; ok {
		return rec, false, nil
	}
	rec = user.NewRecord(id, seed, m.now().UTC())
	m.records[id] = rec
	return rec, true, nil
}

// ApplyTransition checks the expected state and applies the mutation atomically.
func (m *memoryLedger) ApplyTransition(_ context.Context, id user.SenderID, expected user.State, mut user.Mutation) (user.Record, error) {
	if err := checkMutation(expected, mut); err != nil {
		return user.Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return user.Record{}, ErrNotFound
	}
	if rec.State != expected {
		return user.Record{}, ErrConflict
	}
	rec = mut.Apply(rec)
	m.records[id] = rec
	return rec, nil
}

// Get returns a copy of the stored record.
func (m *memoryLedger) Get(_ context.Context, id user.SenderID) (user.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return user.Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *memoryLedger) Ping(context.Context) error { return nil }

func (m *memoryLedger) Close() error { return nil }

// Len returns the number of stored records.
func (m *memoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
