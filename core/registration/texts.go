package registration

import "strings"

// Texts holds the copy rendered by the machine.
type Texts struct {
	Welcome        string
	AskPhone       string
	PhoneInvalid   string
	ContactForeign string
	AskName        string
	NameInvalid    string
	AskRole        string
	RoleInvalid    string
	AgendaHeader   string
	Agenda         []string
	AgendaButton   string
	AskConfirm     string
	ConfirmButton  string
	Completed      string
	// Unsupported is prepended when a photo, sticker or similar arrives mid-registration.
	Unsupported string
}

// DefaultTexts returns the built-in English copy.
func DefaultTexts() Texts {
	return Texts{
		Welcome:        "Welcome! Let's get you registered. It takes four short steps.",
		AskPhone:       "Please send your phone number in international format, e.g. +14155550123, or tap \"Share phone number\".",
		PhoneInvalid:   "That doesn't look like an international phone number.",
		ContactForeign: "Please share your own contact, not someone else's.",
		AskName:        "Thanks! What is your full name?",
		NameInvalid:    "Please enter your full name (at least 2 characters).",
		AskRole:        "How will you take part?",
		RoleInvalid:    "Please pick one of the options below.",
		AgendaHeader:   "Here is the agenda:",
		Agenda: []string{
			"09:30 Registration and coffee",
			"10:00 Opening remarks",
			"10:30 Project pitches",
			"13:00 Networking lunch",
		},
		AgendaButton:  "Got it",
		AskConfirm:    "Everything is set. Confirm to finish your registration.",
		ConfirmButton: "Complete registration",
		Completed:     "You're registered! Send /help to see what you can do next.",
		Unsupported:   "I can only read text here.",
	}
}

// WithAgenda returns a copy of t using the given agenda lines. Blank lines are skipped
// and an empty list keeps the current agenda.
func (t Texts) WithAgenda(lines []string) Texts {
	var agenda []string
	for _, l := range lines {
		if s := strings.TrimSpace(l); s != "" {
			agenda = append(agenda, s)
		}
	}
	if len(agenda) > 0 {
		t.Agenda = agenda
	}
	return t
}

func (t Texts) agendaText() string {
	var b strings.Builder
	b.WriteString(t.AgendaHeader)
	for _, line := range t.Agenda {
		b.WriteString("\n• ")
		b.WriteString(line)
	}
	return b.String()
}
