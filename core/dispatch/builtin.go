package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/m3rciful/onboardbot/core/buildinfo"
	"github.com/m3rciful/onboardbot/core/deadletter"
	"github.com/m3rciful/onboardbot/core/event"
	"github.com/m3rciful/onboardbot/core/ledger"
	"github.com/m3rciful/onboardbot/core/user"
)

// recentDeadLetters is how many entries /deadletters shows.
const recentDeadLetters = 5

// DeadLetterReader exposes parked events for operator inspection.
type DeadLetterReader interface {
	List(ctx context.Context, n int64) ([]deadletter.Entry, error)
	Len(ctx context.Context) (int64, error)
}

// Builtins are the handlers every deployment gets.
type Builtins struct {
	Ledger      ledger.Ledger
	DeadLetters DeadLetterReader
}

// Register adds /start, /profile, /help, the admin commands and the fallbacks to reg.
func (b Builtins) Register(reg *Registry) error {
	cmds := map[string]Command{
		"/start": {
			Handler:     b.start,
			Description: "Show the welcome message",
			Hidden:      true,
		},
		"/profile": {
			Handler:     b.profile,
			Description: "Show your registration details",
			Aliases:     []string{"me"},
		},
		"/help": {
			Handler:     b.help(reg),
			Description: "List available commands",
		},
		"/user": {
			Handler:     b.lookupUser,
			Description: "Look up a sender by id",
			AdminOnly:   true,
		},
		"/deadletters": {
			Handler:     b.deadLetters,
			Description: "Show the newest dead-letter entries",
			AdminOnly:   true,
		},
	}
	for name, cmd := range cmds {
		if err := reg.RegisterCommand(name, cmd); err != nil {
			return err
		}
	}
	reg.SetTextFallback(func(context.Context, Request) (event.Prompt, error) {
		return event.Text("I didn't get that. Send /help to see what I can do."), nil
	})
	reg.SetCallbackNotFound(func(context.Context, Request) (event.Prompt, error) {
		return event.Text("This button is no longer active."), nil
	})
	return nil
}

func (b Builtins) start(_ context.Context, req Request) (event.Prompt, error) {
	name := req.Record.FullName
	if name == "" {
		name = req.Record.DisplayName
	}
	return event.Text(fmt.Sprintf("Welcome back, %s! You're already registered. Send /help for options.", name)), nil
}

func (b Builtins) profile(_ context.Context, req Request) (event.Prompt, error) {
	return event.Text(describe(req.Record)), nil
}

func (b Builtins) help(reg *Registry) HandlerFunc {
	return func(context.Context, Request) (event.Prompt, error) {
		var sb strings.Builder
		sb.WriteString("Available commands:")
		for _, c := range reg.ListCommands(true) {
			sb.WriteString("\n")
			sb.WriteString(c.Name)
			sb.WriteString(" - ")
			sb.WriteString(c.Description)
		}
		sb.WriteString("\n\n")
		sb.WriteString(buildinfo.String())
		return event.Text(sb.String()), nil
	}
}

func (b Builtins) lookupUser(ctx context.Context, req Request) (event.Prompt, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(req.Args), 10, 64)
	if err != nil || id <= 0 {
		return event.Text("Usage: /user <sender id>"), nil
	}
	rec, err := b.Ledger.Get(ctx, user.SenderID(id))
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return event.Text(fmt.Sprintf("No sender with id %d.", id)), nil
	case err != nil:
		return event.Prompt{}, fmt.Errorf("lookup sender %d: %w", id, err)
	}
	return event.Text(fmt.Sprintf("Sender %d\n%s", id, describe(rec))), nil
}

func (b Builtins) deadLetters(ctx context.Context, _ Request) (event.Prompt, error) {
	if b.DeadLetters == nil {
		return event.Text("Dead-letter queue is not configured."), nil
	}
	n, err := b.DeadLetters.Len(ctx)
	if err != nil {
		return event.Prompt{}, fmt.Errorf("dead-letter depth: %w", err)
	}
	if n == 0 {
		return event.Text("Dead-letter queue: 0 entries."), nil
	}
	entries, err := b.DeadLetters.List(ctx, recentDeadLetters)
	if err != nil {
		return event.Prompt{}, fmt.Errorf("dead-letter list: %w", err)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Dead-letter queue: %d entries.", n)
	for _, e := range entries {
		fmt.Fprintf(&sb, "\n%s %s sender %d %s %s",
			e.At.Format(time.RFC3339), e.ID, e.SenderID, e.Kind, orDash(e.ErrCode))
	}
	return event.Text(sb.String()), nil
}

func describe(rec user.Record) string {
	step, total := rec.State.Step()
	lines := []string{
		"Name: " + orDash(rec.FullName),
		"Phone: " + orDash(rec.PhoneNumber),
		"Role: " + orDash(rec.Role.Label()),
		fmt.Sprintf("State: %s (%d/%d)", rec.State, step, total),
	}
	if !rec.CreatedAt.IsZero() {
		lines = append(lines, "Since: "+rec.CreatedAt.Format("2006-01-02"))
	}
	return strings.Join(lines, "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
