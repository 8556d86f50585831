package engine

import (
	"strings"

	"github.com/m3rciful/flowbot/core/domain"
)

// Event is one inbound chat message, already decoded from the provider payload.
type Event struct {
	UpdateID  int
	ChatID    int64
	MessageID int
	Profile   domain.Profile
	Kind      domain.MessageKind
	// Text holds the message text, or the caption of a media message.
	Text string
	// Phone is set for contact payloads. It may be empty when the contact
	// carried no number.
	Phone   string
	FileRef string
}

// Route names the handler an event is dispatched to.
type Route string

const (
	RouteCommand Route = "command"
	RouteText    Route = "text"
	RouteContact Route = "contact"
)

// Route classifies the event. Contacts win regardless of the text they carry.
// Only plain text can be a command; a media caption starting with "/" is text.
func (e Event) Route() Route {
	switch {
	case e.Kind == domain.KindContact:
		return RouteContact
	case e.kind() == domain.KindText && strings.HasPrefix(strings.TrimSpace(e.Text), "/"):
		return RouteCommand
	default:
		return RouteText
	}
}

// Command returns the command token of the event: the first word, lower-cased,
// with any "@botname" suffix removed. It is "" for non-command events.
func (e Event) Command() string {
	if e.Route() != RouteCommand {
		return ""
	}
	return commandName(e.Text)
}

func commandName(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	name := strings.ToLower(fields[0])
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	return name
}

func (e Event) kind() domain.MessageKind {
	if e.Kind == "" {
		return domain.KindText
	}
	return e.Kind
}
