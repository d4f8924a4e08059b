// Package ingest runs normalized events through rate limiting, duplicate
// suppression, dispatch and delivery.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/m3rciful/onboardbot/core/deadletter"
	"github.com/m3rciful/onboardbot/core/dedup"
	"github.com/m3rciful/onboardbot/core/dispatch"
	"github.com/m3rciful/onboardbot/core/event"
	"github.com/m3rciful/onboardbot/core/ledger"
	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/telegram/sender"
)

// ErrPanic wraps a value recovered from a panicking handler.
var ErrPanic = errors.New("ingest: handler panicked")

// Dispatcher turns an event into the prompt to deliver.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev event.InboundEvent) (event.Prompt, error)
}

// Sender delivers prompts. *sender.Gateway implements it.
type Sender interface {
	Send(ctx context.Context, chatID int64, p event.Prompt) (sender.Ack, error)
	AnswerCallback(ctx context.Context, callbackID string) error
}

// Options configures a Pipeline. Nil stores disable the corresponding step.
type Options struct {
	Dedup       dedup.Store
	DeadLetters deadletter.Queue
	Limiter     *RateLimiter
	// Timeout bounds the processing of one event; 0 means no limit.
	Timeout time.Duration
	Now     func() time.Time
}

// Pipeline processes one event at a time per call and is safe for concurrent use.
type Pipeline struct {
	dispatcher  Dispatcher
	sender      Sender
	dedup       dedup.Store
	deadLetters deadletter.Queue
	limiter     *RateLimiter
	timeout     time.Duration
	now         func() time.Time
}

// NewPipeline wires d and s with the optional steps in opts.
func NewPipeline(d Dispatcher, s Sender, opts Options) *Pipeline {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		dispatcher:  d,
		sender:      s,
		dedup:       opts.Dedup,
		deadLetters: opts.DeadLetters,
		limiter:     opts.Limiter,
		timeout:     opts.Timeout,
		now:         now,
	}
}

// Handle processes ev. Duplicates and rate-limited events return nil.
// An unavailable ledger parks the event in the dead-letter queue and
// releases its dedup claim so a redelivery is tried again.
func (p *Pipeline) Handle(ctx context.Context, ev event.InboundEvent) (err error) {
	start := time.Now()
	rid := logger.BuildRID(ev.UpdateID, ev.ChatID, int64(ev.SenderID))
	ctx = logger.WithRID(ctx, rid)
	ctx = logger.WithEventMeta(ctx, ev.UpdateID, int64(ev.SenderID), ev.ChatID)
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			logger.Error(ctx, "ingest", "event.panic",
				slog.String("status", "fail"),
				slog.String("kind", string(ev.Kind)),
				slog.String("err", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if !p.limiter.Allow(ev) {
		p.answer(ctx, ev)
		p.summary(ctx, ev, "rate_limited", start, nil)
		return nil
	}

	key := ev.ProviderMessageID
	claimed := false
	if p.dedup != nil && key != "" {
		ok, cerr := p.dedup.Claim(ctx, key)
		switch {
		case cerr != nil:
			// The ledger compare-and-swap still guards state; carry on without the claim.
			logger.Warn(ctx, "ingest", "dedup.claim",
				slog.String("status", "fail"),
				slog.String("provider_message_id", key),
				slog.String("err", cerr.Error()),
			)
		case !ok:
			p.summary(ctx, ev, "duplicate", start, nil)
			return nil
		default:
			claimed = true
		}
	}

	prompt, err := p.dispatcher.Dispatch(ctx, ev)
	p.answer(ctx, ev)
	if err != nil {
		if errors.Is(err, ledger.ErrUnavailable) {
			p.park(ctx, ev, err)
			if claimed {
				p.release(ctx, key)
			}
		}
		p.summary(ctx, ev, "fail", start, err)
		return err
	}

	if prompt.Empty() {
		p.summary(ctx, ev, "ok", start, nil, slog.Bool("prompt", false))
		return nil
	}
	ack, err := p.sender.Send(ctx, ev.ChatID, prompt)
	if err != nil {
		// State is already committed; the next inbound message re-prompts.
		p.summary(ctx, ev, "fail", start, err, slog.Bool("prompt", true))
		return err
	}
	p.summary(ctx, ev, "ok", start, nil,
		slog.Bool("prompt", true),
		slog.Int("attempts", ack.Attempts),
	)
	return nil
}

// answer stops the client's spinner on callback buttons, whatever the outcome.
func (p *Pipeline) answer(ctx context.Context, ev event.InboundEvent) {
	cbID := ev.CallbackID()
	if cbID == "" {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = p.sender.AnswerCallback(actx, cbID)
}

func (p *Pipeline) park(ctx context.Context, ev event.InboundEvent, cause error) {
	if p.deadLetters == nil {
		return
	}
	entry := deadletter.NewEntry(ev, dispatch.ErrorCode(cause), cause, p.now())
	// The event context may be the one that expired.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.deadLetters.Push(pctx, entry); err != nil {
		logger.Error(ctx, "ingest", "deadletter.push",
			slog.String("status", "fail"),
			slog.String("provider_message_id", ev.ProviderMessageID),
			slog.String("err", err.Error()),
		)
		return
	}
	logger.Warn(ctx, "ingest", "deadletter.push",
		slog.String("status", "ok"),
		slog.String("dead_letter_id", entry.ID),
		slog.String("provider_message_id", ev.ProviderMessageID),
	)
}

func (p *Pipeline) release(ctx context.Context, key string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.dedup.Release(rctx, key); err != nil {
		logger.Warn(ctx, "ingest", "dedup.release",
			slog.String("status", "fail"),
			slog.String("provider_message_id", key),
			slog.String("err", err.Error()),
		)
	}
}

func (p *Pipeline) summary(ctx context.Context, ev event.InboundEvent, status string, start time.Time, err error, extras ...slog.Attr) {
	level := slog.LevelInfo
	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("kind", string(ev.Kind)),
		slog.String("provider_message_id", ev.ProviderMessageID),
		slog.Duration("duration", logger.Took(start)),
	}
	switch {
	case err != nil && errors.Is(err, ledger.ErrUnavailable):
		level = slog.LevelError
	case err != nil:
		level = slog.LevelWarn
	case status == "duplicate":
		level = slog.LevelDebug
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", dispatch.ErrorCode(err)),
		)
		var derr *sender.DeliveryError
		if errors.As(err, &derr) {
			attrs = append(attrs, slog.Bool("retryable", derr.Transient))
		}
	}
	attrs = append(attrs, extras...)
	logger.Event(ctx, "ingest", level, "event.processed", attrs...)
}
