// Package sender delivers prompts to Telegram with bounded retries.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"regexp"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/onboardbot/core/event"
	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/telegram/keyboard"
	"github.com/m3rciful/onboardbot/core/telegram/netutil"
)

var tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)

// Transport is the subset of *tele.Bot used for delivery.
type Transport interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Responder answers callback queries. *tele.Bot implements it.
type Responder interface {
	Respond(c *tele.Callback, resp ...*tele.CallbackResponse) error
}

// Options bounds the retry loop. Zero values take the defaults.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter maps a computed backoff to the delay actually waited.
	Jitter func(time.Duration) time.Duration
}

// Ack confirms a delivered message.
type Ack struct {
	MessageID int
	Attempts  int
}

// DeliveryError is returned when a prompt could not be delivered.
type DeliveryError struct {
	// Kind is http_429, http_4xx, http_5xx, a netutil kind, or cancelled.
	Kind      string
	Transient bool
	Attempts  int
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("telegram sender: delivery failed after %d attempt(s) (%s): %s", e.Attempts, e.Kind, sanitizeErrorMessage(e.Err))
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Code is used by log summaries.
func (e *DeliveryError) Code() string { return "DELIVERY_" + e.Kind }

// Gateway sends prompts. It is safe for concurrent use.
type Gateway struct {
	transport Transport
	opts      Options
	failures  atomic.Uint64
}

// NewGateway wraps transport with the retry policy in opts.
func NewGateway(transport Transport, opts Options) *Gateway {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = 10 * opts.BaseDelay
	}
	if opts.Jitter == nil {
		opts.Jitter = halfJitter
	}
	return &Gateway{transport: transport, opts: opts}
}

// Failures returns the number of prompts that could not be delivered.
func (g *Gateway) Failures() uint64 {
	return g.failures.Load()
}

// Send delivers p to chatID. Transient failures are retried with exponential
// backoff; anything else fails on the first attempt.
func (g *Gateway) Send(ctx context.Context, chatID int64, p event.Prompt) (Ack, error) {
	if p.Empty() {
		return Ack{}, nil
	}
	start := time.Now()
	opts := &tele.SendOptions{
		ReplyMarkup:           keyboard.FromPrompt(p),
		DisableWebPagePreview: true,
	}

	for attempt := 1; ; attempt++ {
		msg, err := g.transport.Send(tele.ChatID(chatID), p.Text, opts)
		if err == nil {
			ack := Ack{Attempts: attempt}
			if msg != nil {
				ack.MessageID = msg.ID
			}
			logger.Debug(ctx, "tg.sender", "send.success",
				slog.String("status", "ok"),
				slog.Int64("chat_id", chatID),
				slog.Int("attempts", attempt),
				slog.Duration("duration", logger.Took(start)),
			)
			return ack, nil
		}

		kind, transient, wait := classify(err)
		delay := g.backoff(attempt, wait)
		if !transient || attempt >= g.opts.MaxAttempts || delay < 0 {
			return Ack{}, g.fail(ctx, chatID, &DeliveryError{Kind: kind, Transient: transient, Attempts: attempt, Err: err}, start)
		}

		logger.Warn(ctx, "tg.sender", "send.retry",
			slog.String("status", "retry"),
			slog.Int64("chat_id", chatID),
			slog.Int("attempts", attempt),
			slog.String("err_code", kind),
			slog.Duration("backoff", delay),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Ack{}, g.fail(ctx, chatID, &DeliveryError{Kind: "cancelled", Transient: true, Attempts: attempt, Err: errors.Join(ctx.Err(), err)}, start)
		case <-timer.C:
		}
	}
}

// AnswerCallback stops the client's loading indicator for callbackID.
// It is a single best-effort call; transports without Respond are skipped.
func (g *Gateway) AnswerCallback(ctx context.Context, callbackID string) error {
	r, ok := g.transport.(Responder)
	if !ok || callbackID == "" {
		return nil
	}
	if err := r.Respond(&tele.Callback{ID: callbackID}); err != nil {
		logger.Warn(ctx, "tg.sender", "callback.answer",
			slog.String("status", "fail"),
			slog.String("err", sanitizeErrorMessage(err)),
		)
		return err
	}
	return nil
}

// backoff returns the wait before the next attempt, or -1 when a flood-control
// wait exceeds MaxDelay.
func (g *Gateway) backoff(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > g.opts.MaxDelay {
			return -1
		}
		return retryAfter
	}
	d := g.opts.BaseDelay << (attempt - 1)
	if d > g.opts.MaxDelay || d <= 0 {
		d = g.opts.MaxDelay
	}
	return g.opts.Jitter(d)
}

func (g *Gateway) fail(ctx context.Context, chatID int64, derr *DeliveryError, start time.Time) error {
	g.failures.Add(1)
	logger.Error(ctx, "tg.sender", "send.fail",
		slog.String("status", "fail"),
		slog.Int64("chat_id", chatID),
		slog.Int("attempts", derr.Attempts),
		slog.Bool("retryable", derr.Transient),
		slog.String("err", sanitizeErrorMessage(derr.Err)),
		slog.String("err_code", derr.Kind),
		slog.Duration("duration", logger.Took(start)),
	)
	return derr
}

// classify decides whether err is worth another attempt and how long Telegram asked us to wait.
func classify(err error) (kind string, transient bool, retryAfter time.Duration) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return "http_429", true, time.Duration(flood.RetryAfter) * time.Second
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) && floodPtr != nil {
		return "http_429", true, time.Duration(floodPtr.RetryAfter) * time.Second
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return "http_429", true, 0
		case apiErr.Code >= 500:
			return "http_5xx", true, 0
		case apiErr.Code >= 400:
			return "http_4xx", false, 0
		}
	}

	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return "http_4xx", false, 0
	}

	kind = netutil.Classify(err)
	return kind, netutil.ShouldRetry(err), 0
}

func halfJitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(half+1)
}

// sanitizeErrorMessage prevents accidental leakage of Telegram bot tokens in logs.
func sanitizeErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}
