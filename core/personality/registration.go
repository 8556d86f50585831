package personality

import (
	"strings"

	"github.com/m3rciful/flowbot/core/domain"
)

// Registration collects a name and, when the bot asks for it, a phone number.
type Registration struct {
	unknownCommands
}

func (Registration) Name() string { return "registration" }

func (r Registration) HandleText(t *Turn, text string) error {
	switch t.State() {
	case domain.StateNew:
		t.Reply("Please use /start to begin registration.")
	case domain.StateWelcomed:
		r.advance(t)
	case domain.StateAwaitingName:
		name := strings.TrimSpace(text)
		if name == "" {
			t.Reply("What's your name?")
			return nil
		}
		t.User().FirstName = name
		r.advance(t)
	case domain.StateRegistered:
		t.Reply("Thanks for your message: " + text)
	default:
		t.Reply(TextFallback)
	}
	return nil
}

func (r Registration) AfterPhone(t *Turn) error {
	r.complete(t)
	return nil
}

func (r Registration) advance(t *Turn) {
	switch {
	case t.User().FirstName == "":
		t.Reply("What's your name?")
		t.SetState(domain.StateAwaitingName)
	case t.NeedsPhone():
		t.RequestPhone("")
	default:
		r.complete(t)
	}
}

func (Registration) complete(t *Turn) {
	t.SetState(domain.StateRegistered)
	u := t.User()
	name := u.FirstName
	if name == "" {
		name = "Not provided"
	}
	var b strings.Builder
	b.WriteString("✅ Registration complete!\n\n")
	b.WriteString("Name: " + name + "\n")
	if u.PhoneNumber != "" {
		b.WriteString("Phone: " + u.PhoneNumber + "\n")
	}
	t.Reply(b.String())
}
