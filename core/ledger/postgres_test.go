package ledger

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/onboardbot/core/user"
)

var rowColumns = []string{
	"sender_id", "display_name", "username", "locale", "is_bot", "phone_number", "full_name", "role",
	"registration_state", "is_registered", "created_at", "updated_at",
}

func newMockLedger(t *testing.T) (*postgresLedger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &postgresLedger{db: sqlx.NewDb(db, "postgres"), now: fixedClock()}, mock
}

func TestPostgresGetOrCreateInserts(t *testing.T) {
	l, mock := newMockLedger(t)
	at := fixedClock()()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs(int64(10), "Jordan", "jlee", "en", false, "not_started", at).
		WillReturnRows(sqlmock.NewRows(rowColumns).
			AddRow(int64(10), "Jordan", "jlee", "en", false, nil, nil, nil, "not_started", false, at, at))

	rec, created, err := l.GetOrCreate(context.Background(), 10, user.Identity{DisplayName: "Jordan", Username: "jlee", Locale: "en"})
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, user.StateNotStarted, rec.State)
	require.Equal(t, user.RoleUnset, rec.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetOrCreateExisting(t *testing.T) {
	l, mock := newMockLedger(t)
	at := fixedClock()()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnRows(sqlmock.NewRows(rowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE sender_id = $1")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(rowColumns).
			AddRow(int64(10), "Jordan", "", "", false, "+14155550123", nil, nil, "phone_entered", false, at, at))

	rec, created, err := l.GetOrCreate(context.Background(), 10, user.Identity{})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, user.StatePhoneEntered, rec.State)
	require.Equal(t, "+14155550123", rec.PhoneNumber)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetOrCreateUnavailable(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(errors.New("dial tcp: connection refused"))

	_, _, err := l.GetOrCreate(context.Background(), 10, user.Identity{})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestPostgresApplyTransition(t *testing.T) {
	l, mock := newMockLedger(t)
	created := fixedClock()()
	at := created.Add(time.Minute)
	role := user.RoleInvestor

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET")).
		WithArgs(int64(10), "name_entered", "role_selected", false, sqlmock.AnyArg(), sqlmock.AnyArg(), "investor", at).
		WillReturnRows(sqlmock.NewRows(rowColumns).
			AddRow(int64(10), "Jordan", "", "", false, "+14155550123", "Jordan Lee", "investor", "role_selected", false, created, at))

	rec, err := l.ApplyTransition(context.Background(), 10, user.StateNameEntered, user.Mutation{To: user.StateRoleSelected, Role: &role, At: at})
	require.NoError(t, err)
	require.Equal(t, user.StateRoleSelected, rec.State)
	require.Equal(t, user.RoleInvestor, rec.Role)
	require.Equal(t, at, rec.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApplyTransitionConflictAndMissing(t *testing.T) {
	l, mock := newMockLedger(t)
	at := fixedClock()()
	mut := user.Mutation{To: user.StatePhoneEntered, At: at}

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET")).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := l.ApplyTransition(context.Background(), 10, user.StateNotStarted, mut)
	require.ErrorIs(t, err, ErrConflict)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE users SET")).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	_, err = l.ApplyTransition(context.Background(), 11, user.StateNotStarted, mut)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	l, mock := newMockLedger(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE sender_id = $1")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows(rowColumns))

	_, err := l.Get(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
}
