package event

import (
	"strings"

	"github.com/m3rciful/onboardbot/core/user"
)

// ActionKind tags the decoded meaning of a callback payload.
type ActionKind int

const (
	// ActionNone is the zero value for non-callback events.
	ActionNone ActionKind = iota
	// ActionRole selects a registration role.
	ActionRole
	// ActionAgendaAck acknowledges the agenda.
	ActionAgendaAck
	// ActionConfirm confirms registration completion.
	ActionConfirm
	// ActionHandler addresses a post-registration callback handler by key.
	ActionHandler
	// ActionInvalid is a registration callback whose payload failed to decode.
	ActionInvalid
)

// Callback keys emitted by registration prompts.
const (
	KeyRole    = "reg.role"
	KeyAgenda  = "reg.agenda"
	KeyConfirm = "reg.confirm"
)

// Action is the tagged union decoded once from callback data.
type Action struct {
	Kind    ActionKind
	Role    user.Role
	Key     string
	Payload string
}

// Registration reports whether the action targets a registration step.
func (a Action) Registration() bool {
	switch a.Kind {
	case ActionRole, ActionAgendaAck, ActionConfirm, ActionInvalid:
		return true
	}
	return false
}

// DecodeAction maps a callback key and payload into an Action.
func DecodeAction(key, payload string) Action {
	key = strings.TrimSpace(key)
	switch key {
	case KeyRole:
		role, ok := user.ParseRole(payload)
		if !ok {
			return Action{Kind: ActionInvalid, Key: key, Payload: payload}
		}
		return Action{Kind: ActionRole, Role: role, Key: key, Payload: payload}
	case KeyAgenda:
		return Action{Kind: ActionAgendaAck, Key: key}
	case KeyConfirm:
		return Action{Kind: ActionConfirm, Key: key}
	}
	return Action{Kind: ActionHandler, Key: key, Payload: payload}
}

// Value encodes key and payload as an opaque choice value understood by DecodeValue.
func Value(key, payload string) string {
	if payload == "" {
		return key
	}
	return key + "|" + payload
}

// DecodeValue splits a choice value into key and payload.
// Telebot's form-feed prefix for unique buttons is accepted.
func DecodeValue(raw string) (string, string) {
	raw = strings.TrimPrefix(raw, "\f")
	key, payload, _ := strings.Cut(raw, "|")
	return strings.TrimSpace(key), payload
}
