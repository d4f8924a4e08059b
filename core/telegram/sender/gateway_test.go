package sender

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/onboardbot/core/event"
)

type call struct {
	to   string
	text string
	opts *tele.SendOptions
}

// scriptedTransport fails with errs in order, then succeeds.
type scriptedTransport struct {
	mu    sync.Mutex
	errs  []error
	calls []call
}

func (s *scriptedTransport) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := call{to: to.Recipient(), text: what.(string)}
	if len(opts) > 0 {
		c.opts, _ = opts[0].(*tele.SendOptions)
	}
	s.calls = append(s.calls, c)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return &tele.Message{ID: 100 + len(s.calls)}, nil
}

func noJitter(time.Duration) time.Duration { return 0 }

func newTestGateway(tr Transport) *Gateway {
	return NewGateway(tr, Options{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Jitter: noJitter})
}

func TestSendDeliversWithMarkup(t *testing.T) {
	tr := &scriptedTransport{}
	g := newTestGateway(tr)

	ack, err := g.Send(context.Background(), 1001, event.Prompt{Text: "pick", Choices: []event.Choice{{Label: "Buyer", Value: "reg.role|buyer"}}})
	require.NoError(t, err)
	require.Equal(t, Ack{MessageID: 101, Attempts: 1}, ack)
	require.Len(t, tr.calls, 1)
	require.Equal(t, "1001", tr.calls[0].to)
	require.Equal(t, "pick", tr.calls[0].text)
	require.Len(t, tr.calls[0].opts.ReplyMarkup.InlineKeyboard, 1)
}

func TestSendEmptyPromptIsNoop(t *testing.T) {
	tr := &scriptedTransport{}
	ack, err := newTestGateway(tr).Send(context.Background(), 1, event.Prompt{})
	require.NoError(t, err)
	require.Zero(t, ack)
	require.Empty(t, tr.calls)
}

func TestSendRetriesTransient(t *testing.T) {
	tr := &scriptedTransport{errs: []error{
		&tele.Error{Code: 502, Description: "Bad Gateway"},
		&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
	}}
	g := newTestGateway(tr)

	ack, err := g.Send(context.Background(), 1, event.Text("hello"))
	require.NoError(t, err)
	require.Equal(t, 3, ack.Attempts)
	require.Len(t, tr.calls, 3)
}

func TestSendGivesUpAfterMaxAttempts(t *testing.T) {
	tooMany := &tele.Error{Code: 429, Description: "Too Many Requests"}
	tr := &scriptedTransport{errs: []error{tooMany, tooMany, tooMany, tooMany}}
	g := newTestGateway(tr)

	_, err := g.Send(context.Background(), 1, event.Text("hello"))
	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	require.True(t, derr.Transient)
	require.Equal(t, 3, derr.Attempts)
	require.Equal(t, "http_429", derr.Kind)
	require.Len(t, tr.calls, 3)
	require.EqualValues(t, 1, g.Failures())
}

func TestSendPermanentFailsImmediately(t *testing.T) {
	blocked := &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"}
	tr := &scriptedTransport{errs: []error{blocked}}

	_, err := newTestGateway(tr).Send(context.Background(), 1, event.Text("hello"))
	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	require.False(t, derr.Transient)
	require.Equal(t, 1, derr.Attempts)
	require.Equal(t, "DELIVERY_http_4xx", derr.Code())
	require.ErrorIs(t, err, blocked)
	require.Len(t, tr.calls, 1)
}

func TestSendStopsOnCancel(t *testing.T) {
	tr := &scriptedTransport{errs: []error{&tele.Error{Code: 500, Description: "boom"}}}
	g := NewGateway(tr, Options{MaxAttempts: 3, BaseDelay: time.Hour, MaxDelay: time.Hour, Jitter: func(d time.Duration) time.Duration { return d }})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Send(ctx, 1, event.Text("hello"))
	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	require.Equal(t, "cancelled", derr.Kind)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	g := NewGateway(&scriptedTransport{}, Options{BaseDelay: 500 * time.Millisecond, MaxDelay: 1500 * time.Millisecond, Jitter: func(d time.Duration) time.Duration { return d }})

	require.Equal(t, 500*time.Millisecond, g.backoff(1, 0))
	require.Equal(t, time.Second, g.backoff(2, 0))
	require.Equal(t, 1500*time.Millisecond, g.backoff(3, 0))
	require.Equal(t, time.Second, g.backoff(1, time.Second))
	require.Negative(t, g.backoff(1, time.Minute))
}

func TestHalfJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := halfJitter(time.Second)
		require.GreaterOrEqual(t, d, 500*time.Millisecond)
		require.LessOrEqual(t, d, time.Second)
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123456:AAE-secret_token/sendMessage": dial tcp: timeout`)
	require.NotContains(t, sanitizeErrorMessage(err), "AAE-secret_token")
	require.Contains(t, sanitizeErrorMessage(err), "bot<redacted>")
}

type respondingTransport struct {
	scriptedTransport
	answered []string
}

func (r *respondingTransport) Respond(c *tele.Callback, _ ...*tele.CallbackResponse) error {
	r.answered = append(r.answered, c.ID)
	return nil
}

func TestAnswerCallback(t *testing.T) {
	tr := &respondingTransport{}
	g := newTestGateway(tr)
	require.NoError(t, g.AnswerCallback(context.Background(), "cb-1"))
	require.NoError(t, g.AnswerCallback(context.Background(), ""))
	require.Equal(t, []string{"cb-1"}, tr.answered)

	// Transports without Respond are skipped.
	require.NoError(t, newTestGateway(&scriptedTransport{}).AnswerCallback(context.Background(), "cb-2"))
}
