// Package telegram adapts telebot to the transport-neutral event pipeline.
package telegram

import (
	"encoding/json"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/onboardbot/core/event"
	"github.com/m3rciful/onboardbot/core/telegram/callbacks"
	"github.com/m3rciful/onboardbot/core/user"
)

// DecodeUpdate parses a webhook body into a telebot update.
func DecodeUpdate(body []byte) (*tele.Update, error) {
	var upd tele.Update
	if err := json.Unmarshal(body, &upd); err != nil {
		return nil, &event.NormalizationError{Reason: fmt.Errorf("%w: %w", event.ErrUnrecognized, err)}
	}
	return &upd, nil
}

// Normalize converts an update into an InboundEvent. It fails only for
// updates without a sender or with neither a message nor a callback.
func Normalize(upd *tele.Update) (event.InboundEvent, error) {
	if upd == nil {
		return event.InboundEvent{}, &event.NormalizationError{Reason: event.ErrUnrecognized}
	}
	switch {
	case upd.Message != nil:
		return normalizeMessage(upd.ID, upd.Message)
	case upd.Callback != nil:
		return normalizeCallback(upd.ID, upd.Callback)
	}
	return event.InboundEvent{}, &event.NormalizationError{UpdateID: upd.ID, Reason: event.ErrUnrecognized}
}

func normalizeMessage(updateID int, m *tele.Message) (event.InboundEvent, error) {
	if m.Sender == nil || m.Sender.ID == 0 {
		return event.InboundEvent{}, &event.NormalizationError{UpdateID: updateID, Reason: event.ErrNoSender}
	}
	chatID := m.Sender.ID
	if m.Chat != nil {
		chatID = m.Chat.ID
	}
	ev := event.InboundEvent{
		SenderID:          user.SenderID(m.Sender.ID),
		ChatID:            chatID,
		UpdateID:          updateID,
		ProviderMessageID: fmt.Sprintf("msg:%d:%d", chatID, m.ID),
		Identity:          identity(m.Sender),
	}
	switch {
	case m.Contact != nil:
		ev.Kind = event.KindContact
		ev.Payload = strings.TrimSpace(m.Contact.PhoneNumber)
		ev.ContactUserID = m.Contact.UserID
	case m.Text != "":
		ev.Kind = event.KindText
		ev.Payload = m.Text
	default:
		ev.Kind = event.KindUnsupported
	}
	return ev, nil
}

func normalizeCallback(updateID int, cb *tele.Callback) (event.InboundEvent, error) {
	if cb.Sender == nil || cb.Sender.ID == 0 {
		return event.InboundEvent{}, &event.NormalizationError{UpdateID: updateID, Reason: event.ErrNoSender}
	}
	chatID := cb.Sender.ID
	if cb.Message != nil && cb.Message.Chat != nil {
		chatID = cb.Message.Chat.ID
	}
	return event.InboundEvent{
		SenderID:          user.SenderID(cb.Sender.ID),
		ChatID:            chatID,
		UpdateID:          updateID,
		ProviderMessageID: "cb:" + cb.ID,
		Kind:              event.KindCallback,
		Payload:           cb.Data,
		Action:            callbacks.Decode(cb),
		Identity:          identity(cb.Sender),
	}, nil
}

func identity(u *tele.User) user.Identity {
	return user.Identity{
		DisplayName: strings.TrimSpace(u.FirstName + " " + u.LastName),
		Username:    u.Username,
		Locale:      u.LanguageCode,
		IsBot:       u.IsBot,
	}
}
