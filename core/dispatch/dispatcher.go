// Package dispatch routes normalized events either into the registration
// machine or, once a sender is registered, into command and callback handlers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/onboardbot/core/event"
	"github.com/m3rciful/onboardbot/core/ledger"
	"github.com/m3rciful/onboardbot/core/registration"
)

// Options configures a Dispatcher.
type Options struct {
	// AdminID gates AdminOnly commands. Zero disables them entirely.
	AdminID int64
	// Now overrides the clock used for mutation timestamps.
	Now func() time.Time
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	ledger   ledger.Ledger
	machine  registration.Machine
	registry *Registry
	adminID  int64
	now      func() time.Time
}

// New wires a dispatcher. A nil registry is replaced with an empty one.
func New(l ledger.Ledger, m registration.Machine, reg *Registry, opts Options) *Dispatcher {
	if reg == nil {
		reg = NewRegistry()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		ledger:   l,
		machine:  m,
		registry: reg,
		adminID:  opts.AdminID,
		now:      now,
	}
}

// Registry exposes the command registry, e.g. for publishing the command menu.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch loads the sender and returns the prompt to deliver, possibly empty.
// Ledger failures are returned wrapping ledger.ErrUnavailable.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.InboundEvent) (event.Prompt, error) {
	p, err := d.dispatch(ctx, ev)
	if errors.Is(err, ledger.ErrNotFound) {
		// The record vanished between read and write; the next read re-seeds it.
		p, err = d.dispatch(ctx, ev)
	}
	return p, err
}

func (d *Dispatcher) dispatch(ctx context.Context, ev event.InboundEvent) (event.Prompt, error) {
	rec, created, err := d.ledger.GetOrCreate(ctx, ev.SenderID, ev.Identity)
	if err != nil {
		return event.Prompt{}, serviceUnavailable(ev, err)
	}

	if !rec.State.Terminal() {
		p, err := handleWithSummary(ctx, "registration", "", func(ctx context.Context) (event.Prompt, error) {
			return d.machine.Process(ctx, d.ledger, rec, ev, created, d.now())
		}, slog.String("state", string(rec.State)), slog.Bool("created", created))
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return event.Prompt{}, serviceUnavailable(ev, err)
		}
		return p, err
	}

	return d.route(ctx, Request{Event: ev, Record: rec})
}

func (d *Dispatcher) route(ctx context.Context, req Request) (event.Prompt, error) {
	ev := req.Event
	switch ev.Kind {
	case event.KindCallback:
		return d.routeCallback(ctx, req)
	case event.KindText:
		if ev.IsCommand() {
			name, args := ev.Command()
			if key, cmd, ok := d.registry.LookupCommand(name); ok && d.allowed(cmd, req) {
				req.Args = args
				return handleWithSummary(ctx, normalizeHandlerName(key), "", func(ctx context.Context) (event.Prompt, error) {
					return cmd.Handler(ctx, req)
				})
			}
		}
		if fb := d.registry.TextFallback(); fb != nil {
			return handleWithSummary(ctx, "fallback", "", func(ctx context.Context) (event.Prompt, error) {
				return fb(ctx, req)
			})
		}
	}
	logHandlerSummary(ctx, "unknown_"+string(ev.Kind), time.Now(), "skip", event.Prompt{}, nil)
	return event.Prompt{}, nil
}

func (d *Dispatcher) routeCallback(ctx context.Context, req Request) (event.Prompt, error) {
	a := req.Event.Action
	extras := []slog.Attr{slog.String("cb_key", a.Key)}
	if a.Registration() {
		// Buttons from a finished registration.
		logHandlerSummary(ctx, "callback.stale", time.Now(), "dropped", event.Prompt{}, nil, extras...)
		return event.Prompt{}, nil
	}
	name := "callback." + normalizeHandlerName(a.Key)
	h, ok := d.registry.GetCallback(a.Key)
	if !ok {
		h = d.registry.CallbackNotFound()
		extras = append(extras, slog.String("cause", "not_found"))
	}
	if h == nil {
		logHandlerSummary(ctx, name, time.Now(), "skip", event.Prompt{}, nil, extras...)
		return event.Prompt{}, nil
	}
	return handleWithSummary(ctx, name, "", func(ctx context.Context) (event.Prompt, error) {
		return h(ctx, req)
	}, extras...)
}

func (d *Dispatcher) allowed(cmd Command, req Request) bool {
	if !cmd.AdminOnly {
		return true
	}
	return d.adminID != 0 && int64(req.Event.SenderID) == d.adminID
}

func serviceUnavailable(ev event.InboundEvent, err error) error {
	if errors.Is(err, ledger.ErrUnavailable) {
		return fmt.Errorf("dispatch: sender %d: %w", ev.SenderID, err)
	}
	return fmt.Errorf("dispatch: sender %d: %w: %w", ev.SenderID, ledger.ErrUnavailable, err)
}
