// Package ledger is the authoritative store of per-sender registration records.
//
// Every backend provides the same guarantees: GetOrCreate creates at most one
// record per sender, and ApplyTransition is a compare-and-swap on the
// registration state, so a replayed event can advance a sender at most once.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/m3rciful/onboardbot/core/user"
)

var (
	// ErrConflict reports that the record was no longer in the expected state.
	ErrConflict = errors.New("ledger: state conflict")
	// ErrNotFound reports a missing sender record.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrUnavailable reports that the backend could not be reached.
	ErrUnavailable = errors.New("ledger: service unavailable")
)

// Ledger is implemented by every storage backend.
type Ledger interface {
	// GetOrCreate returns the sender record, creating it in StateNotStarted when absent.
	// The boolean reports whether this call created the record.
	GetOrCreate(ctx context.Context, id user.SenderID, seed user.Identity) (user.Record, bool, error)
	// ApplyTransition applies m only if the record is still in expected.
	ApplyTransition(ctx context.Context, id user.SenderID, expected user.State, m user.Mutation) (user.Record, error)
	// Get returns the sender record or ErrNotFound.
	Get(ctx context.Context, id user.SenderID) (user.Record, error)
	// Ping verifies backend connectivity for readiness probes.
	Ping(ctx context.Context) error
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func checkMutation(expected user.State, m user.Mutation) error {
	if !expected.Valid() {
		return fmt.Errorf("ledger: invalid expected state %q", expected)
	}
	return m.Validate()
}
