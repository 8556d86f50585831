package personality

import (
	"fmt"
	"strings"

	"github.com/m3rciful/flowbot/core/domain"
)

const (
	supportMenu = "🎧 Support Menu\n\n" +
		"1. Create a ticket\n" +
		"2. Check ticket status\n" +
		"3. FAQ\n" +
		"4. Contact support\n\n" +
		"Please enter a number (1-4):"

	supportFAQ = "❓ Frequently Asked Questions\n\n" +
		"Q: How do I reset my password?\n" +
		"A: Use the 'Forgot Password' link on the login page.\n\n" +
		"Q: How long does shipping take?\n" +
		"A: Usually 3-5 business days.\n\n" +
		"Q: How do I contact support?\n" +
		"A: Select option 4 from the menu."

	supportContact = "📞 Contact Information\n\n" +
		"Email: support@example.com\n" +
		"Phone: +1-234-567-8900\n" +
		"Hours: Mon-Fri 9AM-5PM"

	ticketPreviewRunes = 50
)

// Support runs a numbered menu that files and lists tickets kept in state_data.
type Support struct {
	unknownCommands
}

func (Support) Name() string { return "support" }

func (s Support) HandleText(t *Turn, text string) error {
	switch t.State() {
	case domain.StateNew:
		t.Reply("Please use /start to begin.")
	case domain.StateWelcomed:
		if t.NeedsPhone() {
			t.RequestPhone("")
			return nil
		}
		s.showMenu(t)
	case domain.StateSupportMenu:
		s.choose(t, strings.TrimSpace(text))
	case domain.StateCreatingTicket:
		s.fileTicket(t, text)
	default:
		s.showMenu(t)
	}
	return nil
}

func (s Support) AfterPhone(t *Turn) error {
	s.showMenu(t)
	return nil
}

func (Support) showMenu(t *Turn) {
	t.Reply(supportMenu)
	t.SetState(domain.StateSupportMenu)
}

func (Support) choose(t *Turn, option string) {
	switch option {
	case "1":
		t.Reply("Please describe your issue:")
		t.SetState(domain.StateCreatingTicket)
	case "2":
		t.Reply(ticketList(t.User().Data.Tickets()))
	case "3":
		t.Reply(supportFAQ)
	case "4":
		t.Reply(supportContact)
	default:
		t.Reply("Invalid option. Please enter 1-4.")
	}
}

func (Support) fileTicket(t *Turn, description string) {
	u := t.User()
	ticket := domain.Ticket{
		ID:          fmt.Sprintf("TKT-%d-%d", u.ID, len(u.Data.Tickets())),
		Description: description,
		Status:      "open",
	}
	u.Data.AppendTicket(ticket)
	t.SetState(domain.StateRegistered)
	t.Reply("✅ Ticket created!\n\n" +
		"Ticket ID: " + ticket.ID + "\n" +
		"Status: Open\n\n" +
		"Our team will respond shortly.")
}

func ticketList(tickets []domain.Ticket) string {
	if len(tickets) == 0 {
		return "You don't have any tickets."
	}
	var b strings.Builder
	b.WriteString("Your tickets:\n\n")
	for _, tk := range tickets {
		desc := []rune(tk.Description)
		if len(desc) > ticketPreviewRunes {
			desc = desc[:ticketPreviewRunes]
		}
		fmt.Fprintf(&b, "ID: %s\nStatus: %s\nDescription: %s...\n\n", tk.ID, tk.Status, string(desc))
	}
	return b.String()
}
