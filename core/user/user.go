// Package user defines the onboarding domain record owned by the ledger.
package user

import (
	"fmt"
	"strings"
	"time"
)

// SenderID is the provider-assigned identity of a sender.
type SenderID int64

// State identifies a registration step.
type State string

const (
	// StateNotStarted is assigned to every freshly created record.
	StateNotStarted State = "not_started"
	// StatePhoneEntered means the phone number has been collected.
	StatePhoneEntered State = "phone_entered"
	// StateNameEntered means the full name has been collected.
	StateNameEntered State = "name_entered"
	// StateRoleSelected means the role has been collected.
	StateRoleSelected State = "role_selected"
	// StateAgendaViewed means the agenda has been acknowledged.
	StateAgendaViewed State = "agenda_viewed"
	// StateCompleted is terminal.
	StateCompleted State = "completed"
)

var progression = []State{
	StateNotStarted,
	StatePhoneEntered,
	StateNameEntered,
	StateRoleSelected,
	StateAgendaViewed,
	StateCompleted,
}

// Valid reports whether s is a known registration state.
func (s State) Valid() bool {
	return s.rank() >= 0
}

// Next returns the single legal successor of s.
// The second result is false for the terminal state and unknown values.
func (s State) Next() (State, bool) {
	i := s.rank()
	if i < 0 || i == len(progression)-1 {
		return "", false
	}
	return progression[i+1], true
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted
}

// Step returns the 1-based position of s in the registration flow and the number of steps.
func (s State) Step() (int, int) {
	return s.rank() + 1, len(progression)
}

func (s State) rank() int {
	for i, st := range progression {
		if st == s {
			return i
		}
	}
	return -1
}

// ParseState converts a stored value into a State.
func ParseState(raw string) (State, error) {
	st := State(strings.TrimSpace(raw))
	if !st.Valid() {
		return "", fmt.Errorf("user: unknown registration state %q", raw)
	}
	return st, nil
}

// Role is the participation type chosen during registration.
type Role string

const (
	// RoleUnset marks a record whose role has not been collected yet.
	RoleUnset    Role = ""
	RoleBuyer    Role = "buyer"
	RoleInvestor Role = "investor"
	RoleBoth     Role = "both"
)

// Roles lists selectable roles in presentation order.
var Roles = []Role{RoleBuyer, RoleInvestor, RoleBoth}

// Valid reports whether r is one of the selectable roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleInvestor, RoleBoth:
		return true
	}
	return false
}

// Label returns the human-readable role name.
func (r Role) Label() string {
	switch r {
	case RoleBuyer:
		return "Buyer"
	case RoleInvestor:
		return "Investor"
	case RoleBoth:
		return "Both"
	}
	return ""
}

// ParseRole accepts a role value or label, case-insensitively.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return RoleUnset, false
	}
	return r, true
}

// Identity holds the fields taken verbatim from the transport on first contact.
type Identity struct {
	DisplayName string
	Username    string
	Locale      string
	IsBot       bool
}

// Record is the per-sender onboarding document.
type Record struct {
	SenderID     SenderID
	DisplayName  string
	Username     string
	Locale       string
	IsBot        bool
	PhoneNumber  string
	FullName     string
	Role         Role
	State        State
	IsRegistered bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewRecord builds the initial record for an unseen sender.
func NewRecord(id SenderID, seed Identity, at time.Time) Record {
	return Record{
		SenderID:    id,
		DisplayName: seed.DisplayName,
		Username:    seed.Username,
		Locale:      seed.Locale,
		IsBot:       seed.IsBot,
		State:       StateNotStarted,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

// Mutation describes a single registration transition and the answer it stores.
// Nil answer fields leave the stored value untouched.
type Mutation struct {
	To          State
	PhoneNumber *string
	FullName    *string
	Role        *Role
	At          time.Time
}

// Validate checks the mutation against the record invariants.
func (m Mutation) Validate() error {
	if !m.To.Valid() {
		return fmt.Errorf("user: invalid target state %q", m.To)
	}
	if m.Role != nil && !m.Role.Valid() {
		return fmt.Errorf("user: invalid role %q", *m.Role)
	}
	if m.At.IsZero() {
		return fmt.Errorf("user: mutation timestamp is required")
	}
	return nil
}

// Apply returns a copy of r with the mutation applied.
func (m Mutation) Apply(r Record) Record {
	r.State = m.To
	r.IsRegistered = m.To == StateCompleted
	if m.PhoneNumber != nil {
		r.PhoneNumber = *m.PhoneNumber
	}
	if m.FullName != nil {
		r.FullName = *m.FullName
	}
	if m.Role != nil {
		r.Role = *m.Role
	}
	r.UpdatedAt = m.At
	return r
}
