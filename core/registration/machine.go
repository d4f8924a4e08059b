// Package registration implements the onboarding dialogue as a stateless machine.
//
// Decide is pure: it maps the freshly read record and one inbound event to a
// Decision. Process performs the single conditional ledger write a Decision
// may require; a ledger conflict means another delivery already advanced the
// sender, and the event is dropped without a prompt.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/onboardbot/core/event"
	"github.com/m3rciful/onboardbot/core/ledger"
	"github.com/m3rciful/onboardbot/core/logger"
	"github.com/m3rciful/onboardbot/core/user"
)

// ErrCompleted is returned by Process for senders that finished registration.
var ErrCompleted = errors.New("registration: already completed")

// Outcome tells the caller what a Decision requires.
type Outcome int

const (
	// OutcomeDefer hands the event to ordinary command handling.
	OutcomeDefer Outcome = iota
	// OutcomeAdvance applies Mutation and renders the prompt of the next state.
	OutcomeAdvance
	// OutcomeReprompt repeats the current question without touching the ledger.
	OutcomeReprompt
	// OutcomeDrop ignores the event.
	OutcomeDrop
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDefer:
		return "defer"
	case OutcomeAdvance:
		return "advance"
	case OutcomeReprompt:
		return "reprompt"
	case OutcomeDrop:
		return "drop"
	}
	return "unknown"
}

// Decision is the result of Decide.
type Decision struct {
	Outcome Outcome
	From    user.State
	// Mutation is set for OutcomeAdvance; its At is filled in by Process.
	Mutation user.Mutation
	// Prompt is set for OutcomeReprompt.
	Prompt event.Prompt
	// Invalid carries the failed rule behind a re-prompt, if any.
	Invalid *ValidationError
}

// Machine holds the read-only texts used to render prompts. The zero value is not usable; call New.
type Machine struct {
	texts Texts
}

// New returns a machine rendering the given texts.
func New(texts Texts) Machine {
	return Machine{texts: texts}
}

// Decide computes the next step for rec given ev. firstContact marks a record created by this event.
func (m Machine) Decide(rec user.Record, ev event.InboundEvent, firstContact bool) Decision {
	from := rec.State
	if from.Terminal() || !from.Valid() {
		return Decision{Outcome: OutcomeDefer, From: from}
	}

	if ev.IsCommand() {
		return m.reprompt(from, firstContact, nil)
	}
	if ev.Kind == event.KindCallback {
		if !ev.Action.Registration() {
			return m.reprompt(from, firstContact, nil)
		}
		if !actionFits(from, ev.Action) {
			return Decision{Outcome: OutcomeDrop, From: from}
		}
	}

	next, _ := from.Next()
	mut := user.Mutation{To: next}

	switch from {
	case user.StateNotStarted:
		if ev.Kind == event.KindUnsupported {
			return m.reprompt(from, firstContact, &ValidationError{State: from, Reason: reasonUnsupported})
		}
		phone, verr := parsePhone(ev)
		if verr != nil {
			return m.reprompt(from, firstContact, verr)
		}
		mut.PhoneNumber = &phone
	case user.StatePhoneEntered:
		if ev.Kind != event.KindText {
			return m.reprompt(from, false, &ValidationError{State: from, Reason: reasonUnsupported})
		}
		name, verr := parseName(ev.Payload)
		if verr != nil {
			return m.reprompt(from, false, verr)
		}
		mut.FullName = &name
	case user.StateNameEntered:
		role, verr := parseRole(ev)
		if verr != nil {
			return m.reprompt(from, false, verr)
		}
		mut.Role = &role
	case user.StateRoleSelected, user.StateAgendaViewed:
		// Acknowledgement steps accept any input.
	}
	return Decision{Outcome: OutcomeAdvance, From: from, Mutation: mut}
}

// actionFits reports whether a registration callback belongs to the step awaiting input in st.
func actionFits(st user.State, a event.Action) bool {
	switch a.Kind {
	case event.ActionRole:
		return st == user.StateNameEntered
	case event.ActionInvalid:
		return st == user.StateNameEntered && a.Key == event.KeyRole
	case event.ActionAgendaAck:
		return st == user.StateRoleSelected
	case event.ActionConfirm:
		return st == user.StateAgendaViewed
	}
	return false
}

func (m Machine) reprompt(st user.State, firstContact bool, verr *ValidationError) Decision {
	p := m.PromptFor(st)
	switch {
	case firstContact && st == user.StateNotStarted:
		// A first message is a greeting, not a wrong answer.
		p.Text = m.texts.Welcome + "\n\n" + p.Text
		verr = nil
	case verr != nil:
		p.Text = m.annotation(verr) + "\n\n" + p.Text
	}
	return Decision{Outcome: OutcomeReprompt, From: st, Prompt: p, Invalid: verr}
}

func (m Machine) annotation(verr *ValidationError) string {
	switch verr.Reason {
	case reasonPhone:
		return m.texts.PhoneInvalid
	case reasonContactForeign:
		return m.texts.ContactForeign
	case reasonName:
		return m.texts.NameInvalid
	case reasonRole:
		return m.texts.RoleInvalid
	}
	return m.texts.Unsupported
}

// PromptFor renders the question asked while a sender is in st.
func (m Machine) PromptFor(st user.State) event.Prompt {
	switch st {
	case user.StateNotStarted:
		return event.Prompt{Text: m.texts.AskPhone, RequestContact: true}
	case user.StatePhoneEntered:
		return event.Text(m.texts.AskName)
	case user.StateNameEntered:
		choices := make([]event.Choice, 0, len(user.Roles))
		for _, r := range user.Roles {
			choices = append(choices, event.Choice{Label: r.Label(), Value: event.Value(event.KeyRole, string(r))})
		}
		return event.Prompt{Text: m.texts.AskRole, Choices: choices}
	case user.StateRoleSelected:
		return event.Prompt{
			Text:    m.texts.agendaText(),
			Choices: []event.Choice{{Label: m.texts.AgendaButton, Value: event.KeyAgenda}},
		}
	case user.StateAgendaViewed:
		return event.Prompt{
			Text:    m.texts.AskConfirm,
			Choices: []event.Choice{{Label: m.texts.ConfirmButton, Value: event.KeyConfirm}},
		}
	case user.StateCompleted:
		return event.Text(m.texts.Completed)
	}
	return event.Prompt{}
}

// Process runs one event for a sender still in registration and returns the prompt to deliver.
// An empty prompt means nothing should be sent. Ledger failures other than a state conflict are returned.
func (m Machine) Process(ctx context.Context, l ledger.Ledger, rec user.Record, ev event.InboundEvent, firstContact bool, now time.Time) (event.Prompt, error) {
	d := m.Decide(rec, ev, firstContact)
	attrs := []slog.Attr{
		slog.String("state", string(d.From)),
		slog.String("kind", string(ev.Kind)),
		slog.String("outcome", d.Outcome.String()),
	}

	switch d.Outcome {
	case OutcomeDefer:
		return event.Prompt{}, ErrCompleted
	case OutcomeDrop:
		logger.Debug(ctx, "registration", "registration.drop", append(attrs,
			slog.String("status", "dropped"),
			slog.String("cb_key", ev.Action.Key),
		)...)
		return event.Prompt{}, nil
	case OutcomeReprompt:
		if d.Invalid != nil {
			attrs = append(attrs, slog.String("err_code", d.Invalid.Code()))
		}
		logger.Info(ctx, "registration", "registration.reprompt", append(attrs, slog.String("status", "skip"))...)
		return d.Prompt, nil
	}

	mut := d.Mutation
	mut.At = now.UTC()
	updated, err := l.ApplyTransition(ctx, rec.SenderID, d.From, mut)
	switch {
	case errors.Is(err, ledger.ErrConflict):
		logger.Info(ctx, "registration", "registration.transition", append(attrs,
			slog.String("status", "duplicate"),
			slog.String("state_to", string(mut.To)),
		)...)
		return event.Prompt{}, nil
	case err != nil:
		return event.Prompt{}, fmt.Errorf("registration: apply %s -> %s: %w", d.From, mut.To, err)
	}

	attrs = append(attrs,
		slog.String("status", "ok"),
		slog.String("state_from", string(d.From)),
		slog.String("state_to", string(updated.State)),
	)
	if mut.PhoneNumber != nil {
		attrs = append(attrs, slog.String("phone_number", *mut.PhoneNumber))
	}
	if mut.FullName != nil {
		attrs = append(attrs, slog.String("full_name", *mut.FullName))
	}
	if mut.Role != nil {
		attrs = append(attrs, slog.String("role", string(*mut.Role)))
	}
	logger.Info(ctx, "registration", "registration.transition", attrs...)
	return m.PromptFor(updated.State), nil
}
