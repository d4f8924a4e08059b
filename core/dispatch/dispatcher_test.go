package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/onboardbot/core/deadletter"
	"github.com/m3rciful/onboardbot/core/event"
	"github.com/m3rciful/onboardbot/core/ledger"
	"github.com/m3rciful/onboardbot/core/registration"
	"github.com/m3rciful/onboardbot/core/user"
)

const (
	sender user.SenderID = 42
	admin  int64         = 7
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func textFrom(id user.SenderID, s string) event.InboundEvent {
	return event.InboundEvent{SenderID: id, ChatID: int64(id), Kind: event.KindText, Payload: s,
		Identity: user.Identity{DisplayName: "Jordan", Locale: "en"}}
}

func callbackFrom(id user.SenderID, key, payload string) event.InboundEvent {
	return event.InboundEvent{SenderID: id, ChatID: int64(id), Kind: event.KindCallback,
		Payload: event.Value(key, payload), Action: event.DecodeAction(key, payload)}
}

func newDispatcher(t *testing.T, l ledger.Ledger, depth DeadLetterReader) *Dispatcher {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, Builtins{Ledger: l, DeadLetters: depth}.Register(reg))
	return New(l, registration.New(registration.DefaultTexts()), reg, Options{
		AdminID: admin,
		Now:     func() time.Time { return now },
	})
}

func register(t *testing.T, d *Dispatcher, id user.SenderID) {
	t.Helper()
	ctx := context.Background()
	steps := []event.InboundEvent{
		textFrom(id, "+14155550123"),
		textFrom(id, "Jordan Lee"),
		callbackFrom(id, event.KeyRole, "investor"),
		callbackFrom(id, event.KeyAgenda, ""),
		callbackFrom(id, event.KeyConfirm, ""),
	}
	for _, ev := range steps {
		p, err := d.Dispatch(ctx, ev)
		require.NoError(t, err)
		require.False(t, p.Empty())
	}
}

func TestDispatchRoutesUnregisteredToMachine(t *testing.T) {
	l := ledger.NewMemory()
	d := newDispatcher(t, l, nil)

	p, err := d.Dispatch(context.Background(), textFrom(sender, "hi"))
	require.NoError(t, err)
	require.Contains(t, p.Text, registration.DefaultTexts().Welcome)
	require.True(t, p.RequestContact)

	rec, err := l.Get(context.Background(), sender)
	require.NoError(t, err)
	require.Equal(t, user.StateNotStarted, rec.State)
	require.Equal(t, "Jordan", rec.DisplayName)
	require.Equal(t, "en", rec.Locale)
}

func TestCompletedSenderGoesToCommands(t *testing.T) {
	l := ledger.NewMemory()
	d := newDispatcher(t, l, nil)
	register(t, d, sender)
	ctx := context.Background()

	// A phone number after completion is ordinary text now.
	p, err := d.Dispatch(ctx, textFrom(sender, "+14155550199"))
	require.NoError(t, err)
	require.Contains(t, p.Text, "/help")

	rec, err := l.Get(ctx, sender)
	require.NoError(t, err)
	require.Equal(t, user.StateCompleted, rec.State)
	require.Equal(t, "+14155550123", rec.PhoneNumber)

	p, err = d.Dispatch(ctx, textFrom(sender, "/me"))
	require.NoError(t, err)
	require.Contains(t, p.Text, "Name: Jordan Lee")
	require.Contains(t, p.Text, "Role: Investor")

	p, err = d.Dispatch(ctx, textFrom(sender, "/help@onboard_bot"))
	require.NoError(t, err)
	require.Contains(t, p.Text, "/profile")
	require.NotContains(t, p.Text, "/user")
	require.NotContains(t, p.Text, "/start")
	require.Contains(t, p.Text, "onboardbot dev")
}

func TestRegistrationButtonsAfterCompletionAreDropped(t *testing.T) {
	d := newDispatcher(t, ledger.NewMemory(), nil)
	register(t, d, sender)

	p, err := d.Dispatch(context.Background(), callbackFrom(sender, event.KeyConfirm, ""))
	require.NoError(t, err)
	require.True(t, p.Empty())
}

func TestCallbackRouting(t *testing.T) {
	l := ledger.NewMemory()
	d := newDispatcher(t, l, nil)
	register(t, d, sender)
	var got atomic.Value
	require.NoError(t, d.Registry().RegisterCallback("menu.open", func(_ context.Context, req Request) (event.Prompt, error) {
		got.Store(req.Event.Action.Payload)
		return event.Text("opened"), nil
	}))
	require.Error(t, d.Registry().RegisterCallback(event.KeyRole, func(context.Context, Request) (event.Prompt, error) {
		return event.Prompt{}, nil
	}))

	p, err := d.Dispatch(context.Background(), callbackFrom(sender, "menu.open", "page2"))
	require.NoError(t, err)
	require.Equal(t, "opened", p.Text)
	require.Equal(t, "page2", got.Load())

	p, err = d.Dispatch(context.Background(), callbackFrom(sender, "menu.gone", ""))
	require.NoError(t, err)
	require.Equal(t, "This button is no longer active.", p.Text)
}

func TestAdminCommands(t *testing.T) {
	l := ledger.NewMemory()
	dlq := deadletter.NewMemory(10)
	d := newDispatcher(t, l, dlq)
	register(t, d, sender)
	register(t, d, user.SenderID(admin))
	ctx := context.Background()

	p, err := d.Dispatch(ctx, textFrom(sender, "/user 42"))
	require.NoError(t, err)
	require.Contains(t, p.Text, "I didn't get that")

	p, err = d.Dispatch(ctx, textFrom(user.SenderID(admin), "/user 42"))
	require.NoError(t, err)
	require.Contains(t, p.Text, "Sender 42")
	require.Contains(t, p.Text, "Phone: +14155550123")

	p, err = d.Dispatch(ctx, textFrom(user.SenderID(admin), "/user 999"))
	require.NoError(t, err)
	require.Equal(t, "No sender with id 999.", p.Text)

	p, err = d.Dispatch(ctx, textFrom(user.SenderID(admin), "/deadletters"))
	require.NoError(t, err)
	require.Equal(t, "Dead-letter queue: 0 entries.", p.Text)

	cause := fmt.Errorf("dispatch: %w", ledger.ErrUnavailable)
	for i := 1; i <= 7; i++ {
		ev := textFrom(user.SenderID(100+i), "+14155550123")
		ev.ProviderMessageID = fmt.Sprintf("msg:%d:1", 100+i)
		require.NoError(t, dlq.Push(ctx, deadletter.NewEntry(ev, ErrorCode(cause), cause, now.Add(time.Duration(i)*time.Second))))
	}
	p, err = d.Dispatch(ctx, textFrom(user.SenderID(admin), "/deadletters"))
	require.NoError(t, err)
	lines := strings.Split(p.Text, "\n")
	require.Equal(t, "Dead-letter queue: 7 entries.", lines[0])
	require.Len(t, lines, 1+recentDeadLetters)
	require.Contains(t, lines[1], "sender 107 text LEDGER_UNAVAILABLE")
	require.Contains(t, lines[5], "sender 103")
}

func TestLedgerUnavailablePropagates(t *testing.T) {
	d := newDispatcher(t, brokenLedger{err: errors.New("connection refused")}, nil)

	_, err := d.Dispatch(context.Background(), textFrom(sender, "+14155550123"))
	require.ErrorIs(t, err, ledger.ErrUnavailable)
	require.Equal(t, "LEDGER_UNAVAILABLE", ErrorCode(err))
}

func TestMissingRecordIsReseeded(t *testing.T) {
	l := &vanishingLedger{Ledger: ledger.NewMemory()}
	d := newDispatcher(t, l, nil)

	p, err := d.Dispatch(context.Background(), textFrom(sender, "+14155550123"))
	require.NoError(t, err)
	require.Equal(t, registration.DefaultTexts().AskName, p.Text)
	require.EqualValues(t, 1, l.misses.Load())
}

func TestConcurrentFirstContactCreatesOneRecord(t *testing.T) {
	l := &countingLedger{Ledger: ledger.NewMemory()}
	d := newDispatcher(t, l, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Dispatch(context.Background(), textFrom(sender, "hello"))
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, l.created.Load())
}

type brokenLedger struct {
	ledger.Ledger
	err error
}

func (b brokenLedger) GetOrCreate(context.Context, user.SenderID, user.Identity) (user.Record, bool, error) {
	return user.Record{}, false, b.err
}

// vanishingLedger fails the first transition as if the record had been purged.
type vanishingLedger struct {
	ledger.Ledger
	misses atomic.Int32
}

func (v *vanishingLedger) ApplyTransition(ctx context.Context, id user.SenderID, expected user.State, m user.Mutation) (user.Record, error) {
	if v.misses.CompareAndSwap(0, 1) {
		return user.Record{}, ledger.ErrNotFound
	}
	return v.Ledger.ApplyTransition(ctx, id, expected, m)
}

type countingLedger struct {
	ledger.Ledger
	created atomic.Int32
}

func (c *countingLedger) GetOrCreate(ctx context.Context, id user.SenderID, seed user.Identity) (user.Record, bool, error) {
	rec, created, err := c.Ledger.GetOrCreate(ctx, id, seed)
	if created {
		c.created.Add(1)
	}
	return rec, created, err
}
