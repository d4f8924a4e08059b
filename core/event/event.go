// Package event holds the transport-neutral inbound and outbound message types.
package event

import (
	"errors"
	"strings"

	"github.com/m3rciful/onboardbot/core/user"
)

var (
	// ErrNormalization is the parent of every normalizer failure.
	ErrNormalization = errors.New("event: normalization failed")
	// ErrNoSender is returned for payloads without a sender identity.
	ErrNoSender = errors.New("event: payload has no sender")
	// ErrUnrecognized is returned for payloads that are neither a message nor a callback.
	ErrUnrecognized = errors.New("event: unrecognized payload")
)

// NormalizationError wraps the reason a raw payload was rejected.
type NormalizationError struct {
	UpdateID int
	Reason   error
}

func (e *NormalizationError) Error() string {
	return ErrNormalization.Error() + ": " + e.Reason.Error()
}

// Unwrap exposes both the reason and ErrNormalization to errors.Is.
func (e *NormalizationError) Unwrap() []error {
	return []error{ErrNormalization, e.Reason}
}

// Code is used by log summaries.
func (e *NormalizationError) Code() string { return "NORMALIZATION" }

// Kind classifies an inbound event.
type Kind string

const (
	KindText        Kind = "text"
	KindCallback    Kind = "callback"
	KindContact     Kind = "contact"
	KindUnsupported Kind = "unsupported"
)

// InboundEvent is one normalized delivery from the transport. It is never persisted.
type InboundEvent struct {
	SenderID          user.SenderID
	ChatID            int64
	UpdateID          int
	ProviderMessageID string
	Kind              Kind
	Payload           string
	Action            Action
	// ContactUserID is the owner of a shared contact, zero when unknown.
	ContactUserID int64
	Identity      user.Identity
}

// IsCommand reports whether the event is a slash command.
func (e InboundEvent) IsCommand() bool {
	return e.Kind == KindText && strings.HasPrefix(strings.TrimSpace(e.Payload), "/")
}

// Command splits a slash command into its name (with the slash) and argument string.
// A "@botname" suffix is dropped from the name.
func (e InboundEvent) Command() (string, string) {
	if !e.IsCommand() {
		return "", ""
	}
	text := strings.TrimSpace(e.Payload)
	name, args, _ := strings.Cut(text, " ")
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}
	return strings.ToLower(name), strings.TrimSpace(args)
}

// CallbackID returns the provider callback query id, empty for non-callback events.
func (e InboundEvent) CallbackID() string {
	if e.Kind != KindCallback {
		return ""
	}
	id, ok := strings.CutPrefix(e.ProviderMessageID, "cb:")
	if !ok {
		return ""
	}
	return id
}
