// Package deadletter keeps events that could not be processed because a
// backend was down, so an operator can inspect or replay them.
package deadletter

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/m3rciful/onboardbot/core/event"
)

// Entry is one parked event.
type Entry struct {
	ID                string    `json:"id"`
	At                time.Time `json:"at"`
	SenderID          int64     `json:"sender_id"`
	ChatID            int64     `json:"chat_id"`
	UpdateID          int       `json:"update_id"`
	ProviderMessageID string    `json:"provider_message_id"`
	Kind              string    `json:"kind"`
	Payload           string    `json:"payload"`
	ErrCode           string    `json:"err_code"`
	Err               string    `json:"err"`
}

// Queue stores entries newest first, bounded to a maximum length.
type Queue interface {
	Push(ctx context.Context, e Entry) error
	// List returns up to n of the newest entries.
	List(ctx context.Context, n int64) ([]Entry, error)
	Len(ctx context.Context) (int64, error)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewEntry builds an entry for ev with a fresh time-ordered id.
func NewEntry(ev event.InboundEvent, errCode string, cause error, at time.Time) Entry {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(at), entropy)
	entropyMu.Unlock()

	e := Entry{
		ID:                id.String(),
		At:                at.UTC(),
		SenderID:          int64(ev.SenderID),
		ChatID:            ev.ChatID,
		UpdateID:          ev.UpdateID,
		ProviderMessageID: ev.ProviderMessageID,
		Kind:              string(ev.Kind),
		Payload:           ev.Payload,
		ErrCode:           errCode,
	}
	if cause != nil {
		e.Err = cause.Error()
	}
	return e
}

const defaultMaxLen = 1000

type memoryQueue struct {
	mu      sync.Mutex
	max     int
	entries []Entry
}

// NewMemory returns a process-local queue keeping at most maxLen entries.
func NewMemory(maxLen int) Queue {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &memoryQueue{max: maxLen}
}

func (m *memoryQueue) Push(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append([]Entry{e}, m.entries...)
	if len(m.entries) > m.max {
		m.entries = m.entries[:m.max]
	}
	return nil
}

func (m *memoryQueue) List(_ context.Context, n int64) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > int64(len(m.entries)) {
		n = int64(len(m.entries))
	}
	out := make([]Entry, n)
	copy(out, m.entries[:n])
	return out, nil
}

func (m *memoryQueue) Len(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}
