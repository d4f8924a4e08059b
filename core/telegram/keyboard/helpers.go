// Package keyboard renders prompts into telebot reply markup.
package keyboard

import (
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/onboardbot/core/event"
)

// ShareContactLabel is the caption of the contact request button.
const ShareContactLabel = "Share phone number"

// InlineBtn describes a convenience wrapper for inline button properties.
type InlineBtn struct {
	Text   string
	Unique string
	Data   string
}

// FromPrompt picks the markup for a prompt: an inline keyboard for choices,
// a one-time contact keyboard for contact requests, otherwise a keyboard removal.
func FromPrompt(p event.Prompt) *tele.ReplyMarkup {
	switch {
	case len(p.Choices) > 0:
		buttons := make([]InlineBtn, 0, len(p.Choices))
		for _, c := range p.Choices {
			key, payload := event.DecodeValue(c.Value)
			buttons = append(buttons, InlineBtn{Text: c.Label, Unique: key, Data: payload})
		}
		return InlineButtons(buttons)
	case p.RequestContact:
		return ContactRequest(ShareContactLabel)
	}
	return RemoveKeyboard()
}

// RemoveKeyboard returns a markup that hides the keyboard.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

// ContactRequest returns a one-time reply keyboard with a single contact button.
func ContactRequest(label string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	markup.Reply(markup.Row(markup.Contact(label)))
	return markup
}

// InlineButtons builds an inline keyboard where each provided button is placed on its own row.
func InlineButtons(buttons []InlineBtn) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	inline := make([][]tele.InlineButton, 0, len(buttons))
	for _, btn := range buttons {
		inline = append(inline, []tele.InlineButton{*markup.Data(btn.Text, btn.Unique, btn.Data).Inline()})
	}
	markup.InlineKeyboard = inline
	return markup
}
