package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/onboardbot/core/user"
)

const userColumns = `sender_id, display_name, username, locale, is_bot, phone_number, full_name, role,
	registration_state, is_registered, created_at, updated_at`

const (
	insertUserSQL = `INSERT INTO users (sender_id, display_name, username, locale, is_bot,
	registration_state, is_registered, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $7)
ON CONFLICT (sender_id) DO NOTHING
RETURNING ` + userColumns

	selectUserSQL = `SELECT ` + userColumns + ` FROM users WHERE sender_id = $1`

	transitionUserSQL = `UPDATE users SET
	registration_state = $3,
	is_registered = $4,
	phone_number = COALESCE($5, phone_number),
	full_name = COALESCE($6, full_name),
	role = COALESCE($7, role),
	updated_at = $8
WHERE sender_id = $1 AND registration_state = $2
RETURNING ` + userColumns

	existsUserSQL = `SELECT EXISTS (SELECT 1 FROM users WHERE sender_id = $1)`
)

type userRow struct {
	SenderID          int64          `db:"sender_id"`
	DisplayName       string         `db:"display_name"`
	Username          string         `db:"username"`
	Locale            string         `db:"locale"`
	IsBot             bool           `db:"is_bot"`
	PhoneNumber       sql.NullString `db:"phone_number"`
	FullName          sql.NullString `db:"full_name"`
	Role              sql.NullString `db:"role"`
	RegistrationState string         `db:"registration_state"`
	IsRegistered      bool           `db:"is_registered"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r userRow) record() (user.Record, error) {
	st, err := user.ParseState(r.RegistrationState)
	if err != nil {
		return user.Record{}, err
	}
	return user.Record{
		SenderID:     user.SenderID(r.SenderID),
		DisplayName:  r.DisplayName,
		Username:     r.Username,
		Locale:       r.Locale,
		IsBot:        r.IsBot,
		PhoneNumber:  r.PhoneNumber.String,
		FullName:     r.FullName.String,
		Role:         user.Role(r.Role.String),
		State:        st,
		IsRegistered: r.IsRegistered,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}, nil
}

type postgresLedger struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgres returns a Ledger backed by the users table.
// The conditional UPDATE on registration_state provides the compare-and-swap.
func NewPostgres(db *sqlx.DB) Ledger {
	return &postgresLedger{db: db, now: time.Now}
}

// GetOrCreate relies on the primary key so concurrent first contacts insert one row.
func (p *postgresLedger) GetOrCreate(ctx context.Context, id user.SenderID, seed user.Identity) (user.Record, bool, error) {
	var row userRow
	err := p.db.GetContext(ctx, &row, insertUserSQL,
		int64(id), seed.DisplayName, seed.Username, seed.Locale, seed.IsBot,
		string(user.StateNotStarted), p.now().UTC(),
	)
	switch {
	case err == nil:
		rec, convErr := row.record()
		return rec, true, convErr
	case errors.Is(err, sql.ErrNoRows):
		rec, getErr := p.Get(ctx, id)
		if errors.Is(getErr, ErrNotFound) {
			// Inserted by another caller and gone already; nothing sane to return.
			return user.Record{}, false, unavailable("ledger.get_or_create", getErr)
		}
		return rec, false, getErr
	default:
		return user.Record{}, false, unavailable("ledger.get_or_create", err)
	}
}

// ApplyTransition runs the conditional update; zero affected rows means conflict or absence.
func (p *postgresLedger) ApplyTransition(ctx context.Context, id user.SenderID, expected user.State, m user.Mutation) (user.Record, error) {
	if err := checkMutation(expected, m); err != nil {
		return user.Record{}, err
	}
	var role *string
	if m.Role != nil {
		r := string(*m.Role)
		role = &r
	}

	var row userRow
	err := p.db.GetContext(ctx, &row, transitionUserSQL,
		int64(id), string(expected), string(m.To), m.To == user.StateCompleted,
		m.PhoneNumber, m.FullName, role, m.At.UTC(),
	)
	if err == nil {
		return row.record()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return user.Record{}, unavailable("ledger.apply_transition", err)
	}

	var exists bool
	if err := p.db.GetContext(ctx, &exists, existsUserSQL, int64(id)); err != nil {
		return user.Record{}, unavailable("ledger.apply_transition", err)
	}
	if !exists {
		return user.Record{}, ErrNotFound
	}
	return user.Record{}, ErrConflict
}

// Get loads a single record.
func (p *postgresLedger) Get(ctx context.Context, id user.SenderID) (user.Record, error) {
	var row userRow
	if err := p.db.GetContext(ctx, &row, selectUserSQL, int64(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.Record{}, ErrNotFound
		}
		return user.Record{}, unavailable("ledger.get", err)
	}
	return row.record()
}

func (p *postgresLedger) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return unavailable("ledger.ping", err)
	}
	return nil
}

func (p *postgresLedger) Close() error {
	return p.db.Close()
}
