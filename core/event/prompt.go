package event

// Choice is one selectable option attached to a prompt.
type Choice struct {
	Label string
	Value string
}

// Prompt is the outbound text plus optional choice set.
// The zero Prompt means nothing should be sent.
type Prompt struct {
	Text    string
	Choices []Choice
	// RequestContact asks the client to offer a "share phone number" button.
	RequestContact bool
}

// Empty reports whether the prompt carries nothing to deliver.
func (p Prompt) Empty() bool {
	return p.Text == "" && len(p.Choices) == 0
}

// Text builds a prompt without choices.
func Text(s string) Prompt {
	return Prompt{Text: s}
}
