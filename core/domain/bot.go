package domain

import (
	"strings"
	"time"
)

// BotType selects the behavior a bot runs.
type BotType string

// Known bot types. Ecommerce is an alias that runs the flow-driven behavior.
const (
	BotPlain        BotType = "simple"
	BotRegistration BotType = "registration"
	BotSurvey       BotType = "survey"
	BotSupport      BotType = "support"
	BotFlow         BotType = "custom"
	BotEcommerce    BotType = "ecommerce"
)

// Canonical folds aliases and reports whether t is a known type.
func (t BotType) Canonical() (BotType, bool) {
	switch v := BotType(strings.ToLower(strings.TrimSpace(string(t)))); v {
	case BotPlain, BotRegistration, BotSurvey, BotSupport, BotFlow:
		return v, true
	case BotEcommerce:
		return BotFlow, true
	default:
		return BotPlain, false
	}
}

const (
	DefaultPhonePrompt    = "Please share your phone number to continue."
	DefaultAfterPhoneText = "✅ Thank you! Your phone number has been saved."
)

// Bot is one configured chat bot. The engine treats it as read-only.
type Bot struct {
	ID       string  `db:"id" json:"id"`
	Name     string  `db:"name" json:"name"`
	Token    string  `db:"token" json:"-"`
	Username string  `db:"username" json:"username"`
	Type     BotType `db:"bot_type" json:"bot_type"`

	WelcomeEnabled bool   `db:"has_welcome_message" json:"has_welcome_message"`
	WelcomeText    string `db:"welcome_text" json:"welcome_text"`

	PhoneRequired  bool   `db:"has_get_number" json:"has_get_number"`
	PhonePrompt    string `db:"get_number_text" json:"get_number_text"`
	AfterPhoneText string `db:"after_number_text" json:"after_number_text"`

	UserCount    int64 `db:"user_count" json:"user_count"`
	RequestCount int64 `db:"request_count" json:"request_count"`

	AutoSetupWebhook bool   `db:"auto_setup_webhook" json:"auto_setup_webhook"`
	IsWebhookSet     bool   `db:"is_webhook_set" json:"is_webhook_set"`
	WebhookURL       string `db:"webhook_url" json:"webhook_url,omitempty"`

	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Welcome returns the welcome text when the toggle is on, else "".
func (b *Bot) Welcome() string {
	if !b.WelcomeEnabled {
		return ""
	}
	return strings.TrimSpace(b.WelcomeText)
}

// PhonePromptText returns the configured phone prompt or the default one.
func (b *Bot) PhonePromptText() string {
	if s := strings.TrimSpace(b.PhonePrompt); s != "" {
		return s
	}
	return DefaultPhonePrompt
}

// AfterPhoneMessage returns the text sent once a phone number is stored.
func (b *Bot) AfterPhoneMessage() string {
	if s := strings.TrimSpace(b.AfterPhoneText); s != "" {
		return s
	}
	return DefaultAfterPhoneText
}

// BotStats aggregates counters shown by the admin API.
type BotStats struct {
	UserCount        int64 `json:"user_count" db:"user_count"`
	RequestCount     int64 `json:"request_count" db:"request_count"`
	TotalMessages    int64 `json:"total_messages" db:"total_messages"`
	IncomingMessages int64 `json:"incoming_messages" db:"incoming_messages"`
	OutgoingMessages int64 `json:"outgoing_messages" db:"outgoing_messages"`
}
