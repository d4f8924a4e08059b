// Package callbacks decodes Telegram callback data into event actions.
package callbacks

import (
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/onboardbot/core/event"
)

// ParseCallbackData parses Telebot's \f<unique>|<payload> encoding.
// Returns unique and payload (may be empty).
func ParseCallbackData(cb *tele.Callback) (string, string) {
	if cb == nil {
		return "", ""
	}
	if cb.Unique != "" {
		// Already split by telebot's own update processing.
		return cb.Unique, cb.Data
	}
	return event.DecodeValue(strings.TrimSpace(cb.Data))
}

// Decode returns the tagged action carried by cb.
func Decode(cb *tele.Callback) event.Action {
	key, payload := ParseCallbackData(cb)
	if key == "" {
		return event.Action{Kind: event.ActionHandler}
	}
	return event.DecodeAction(key, payload)
}
