package personality

import (
	"context"

	"github.com/m3rciful/flowbot/core/domain"
)

// Affordance is a one-shot control attached to an outbound message.
type Affordance uint8

const (
	NoAffordance Affordance = iota
	// AffordRequestPhone offers a "share phone number" button.
	AffordRequestPhone
	// AffordRemove clears a previously offered control.
	AffordRemove
)

func (a Affordance) String() string {
	switch a {
	case AffordRequestPhone:
		return "request_phone"
	case AffordRemove:
		return "remove"
	default:
		return "none"
	}
}

// Outbound is one message queued during a turn.
type Outbound struct {
	Text       string
	Affordance Affordance
}

// Shared user-facing texts.
const (
	TextPhoneReminder = "Please use the button to share your phone number."
	TextFallback      = "I'm not sure what to do. Try /start"
	TextNoFlow        = "No flow configured for this bot."
)

// Turn is the mutable view a strategy gets of one inbound event. Strategies
// queue replies and edit the user snapshot; the engine sends and persists.
type Turn struct {
	ctx    context.Context
	bot    *domain.Bot
	user   *domain.User
	outbox []Outbound
	flowID *int64
}

// NewTurn starts a turn for user. The user is edited in place.
func NewTurn(ctx context.Context, bot *domain.Bot, user *domain.User) *Turn {
	if user.Data == nil {
		user.Data = domain.StateData{}
	}
	return &Turn{ctx: ctx, bot: bot, user: user}
}

func (t *Turn) Context() context.Context { return t.ctx }
func (t *Turn) Bot() *domain.Bot         { return t.bot }
func (t *Turn) User() *domain.User       { return t.user }
func (t *Turn) State() domain.State      { return t.user.State }

// SetState moves the conversation cursor.
func (t *Turn) SetState(s domain.State) { t.user.State = s }

// Reply queues a plain text message.
func (t *Turn) Reply(text string) { t.ReplyWith(text, NoAffordance) }

// ReplyWith queues a message carrying an affordance.
func (t *Turn) ReplyWith(text string, a Affordance) {
	t.outbox = append(t.outbox, Outbound{Text: text, Affordance: a})
}

// RequestPhone asks for the phone number with the share button and parks the
// conversation in awaiting_phone. A non-empty lead is sent in the same message.
func (t *Turn) RequestPhone(lead string) {
	text := t.bot.PhonePromptText()
	if lead != "" {
		text = lead + "\n\n" + text
	}
	t.ReplyWith(text, AffordRequestPhone)
	t.SetState(domain.StateAwaitingPhone)
}

// NeedsPhone reports whether the bot collects phones and none is on file.
func (t *Turn) NeedsPhone() bool {
	return t.bot.PhoneRequired && t.user.PhoneNumber == ""
}

// Outbox returns the queued messages in order.
func (t *Turn) Outbox() []Outbound { return t.outbox }

// Discard drops every queued message.
func (t *Turn) Discard() { t.outbox = nil }

// UseFlow records which flow served the turn so the audit trail can link it.
func (t *Turn) UseFlow(id int64) { t.flowID = &id }

// FlowID returns the flow recorded by UseFlow, if any.
func (t *Turn) FlowID() *int64 { return t.flowID }
