package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Copy renders the user-facing notice texts through a localized printer.
// Clients are always referred to by their anonymized local id.
type Copy struct {
	p *message.Printer
}

// NewCopy builds notice copy for the given BCP 47 language tag. Unknown or
// empty tags fall back to English.
func NewCopy(tag string) *Copy {
	t, err := language.Parse(tag)
	if err != nil {
		t = language.English
	}
	return &Copy{p: message.NewPrinter(t)}
}

// Invitation is the text of the notice inviting an operator to join the
// client with the given local id.
func (c *Copy) Invitation(clientLocalID int64) string {
	return c.p.Sprintf("User #%d wants to talk. Press the button below to become their operator.", clientLocalID)
}
