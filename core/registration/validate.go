package registration

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/m3rciful/onboardbot/core/event"
	"github.com/m3rciful/onboardbot/core/user"
)

const (
	minNameRunes = 2
	maxNameRunes = 256
)

var phonePattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// ValidationError reports input that fails the rule of the current step.
// It is turned into a re-prompt and never leaves the machine.
type ValidationError struct {
	State  user.State
	Reason string
}

func (e *ValidationError) Error() string {
	return "registration: invalid input for " + string(e.State) + ": " + strings.ToLower(e.Reason)
}

// Code returns the reason as a log error code.
func (e *ValidationError) Code() string { return e.Reason }

const (
	reasonPhone          = "PHONE_INVALID"
	reasonContactForeign = "CONTACT_FOREIGN"
	reasonName           = "NAME_INVALID"
	reasonRole           = "ROLE_INVALID"
	reasonUnsupported    = "UNSUPPORTED_INPUT"
)

// CleanPhone keeps digits and a leading plus sign.
func CleanPhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	b.Grow(len(raw))
	for i, r := range raw {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidPhone reports whether a cleaned number matches the international format.
func ValidPhone(cleaned string) bool {
	return phonePattern.MatchString(cleaned)
}

func parsePhone(ev event.InboundEvent) (string, *ValidationError) {
	raw := ev.Payload
	if ev.Kind == event.KindContact {
		// Phonebook contacts without a Telegram account carry no user id.
		if ev.ContactUserID != int64(ev.SenderID) {
			return "", &ValidationError{State: user.StateNotStarted, Reason: reasonContactForeign}
		}
		raw = strings.TrimSpace(raw)
		if raw != "" && !strings.HasPrefix(raw, "+") {
			raw = "+" + raw
		}
	}
	phone := CleanPhone(raw)
	if !ValidPhone(phone) {
		return "", &ValidationError{State: user.StateNotStarted, Reason: reasonPhone}
	}
	return phone, nil
}

func parseName(raw string) (string, *ValidationError) {
	name := strings.Join(strings.FieldsFunc(raw, unicode.IsSpace), " ")
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return "", &ValidationError{State: user.StatePhoneEntered, Reason: reasonName}
	}
	n := utf8.RuneCountInString(name)
	if n < minNameRunes || n > maxNameRunes {
		return "", &ValidationError{State: user.StatePhoneEntered, Reason: reasonName}
	}
	return name, nil
}

func parseRole(ev event.InboundEvent) (user.Role, *ValidationError) {
	switch {
	case ev.Kind == event.KindCallback && ev.Action.Kind == event.ActionRole:
		return ev.Action.Role, nil
	case ev.Kind == event.KindText:
		if role, ok := user.ParseRole(ev.Payload); ok {
			return role, nil
		}
	}
	return user.RoleUnset, &ValidationError{State: user.StateNameEntered, Reason: reasonRole}
}
