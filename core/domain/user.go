package domain

import "time"

// State is the conversation cursor of a user.
type State string

// Shared states plus the ones owned by individual personalities.
const (
	StateNew            State = "new"
	StateWelcomed       State = "welcomed"
	StateAwaitingPhone  State = "awaiting_phone"
	StateRegistered     State = "registered"
	StateAwaitingName   State = "awaiting_name"
	StateSurveyQ1       State = "survey_q1"
	StateSurveyQ2       State = "survey_q2"
	StateSurveyQ3       State = "survey_q3"
	StateSupportMenu    State = "support_menu"
	StateCreatingTicket State = "creating_ticket"
)

// Profile is the sender information mirrored from the provider on every event.
type Profile struct {
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

// User is a chat participant of exactly one bot.
type User struct {
	ID           int64     `db:"id" json:"id"`
	BotID        string    `db:"bot_id" json:"bot_id"`
	ChatID       int64     `db:"chat_id" json:"chat_id"`
	Username     string    `db:"username" json:"username,omitempty"`
	FirstName    string    `db:"first_name" json:"first_name,omitempty"`
	LastName     string    `db:"last_name" json:"last_name,omitempty"`
	LanguageCode string    `db:"language_code" json:"language_code,omitempty"`
	PhoneNumber  string    `db:"phone_number" json:"phone_number,omitempty"`
	State        State     `db:"user_state" json:"state"`
	Data         StateData `db:"state_data" json:"state_data"`
	IsBlocked    bool      `db:"is_blocked" json:"is_blocked"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	// Version increments on every save and guards against lost updates.
	Version          int64     `db:"version" json:"version"`
	FirstInteraction time.Time `db:"first_interaction" json:"first_interaction"`
	LastInteraction  time.Time `db:"last_interaction" json:"last_interaction"`
}

// NewUser seeds a user for a first contact.
func NewUser(botID string, chatID int64, p Profile, now time.Time) *User {
	return &User{
		BotID:            botID,
		ChatID:           chatID,
		Username:         p.Username,
		FirstName:        p.FirstName,
		LastName:         p.LastName,
		LanguageCode:     p.LanguageCode,
		State:            StateNew,
		Data:             StateData{},
		IsActive:         true,
		Version:          1,
		FirstInteraction: now,
		LastInteraction:  now,
	}
}

// ApplyProfile copies non-empty profile fields onto u and reports whether anything changed.
func (u *User) ApplyProfile(p Profile) bool {
	changed := false
	set := func(dst *string, v string) {
		if v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	set(&u.Username, p.Username)
	set(&u.FirstName, p.FirstName)
	set(&u.LastName, p.LastName)
	set(&u.LanguageCode, p.LanguageCode)
	return changed
}

// DisplayName returns first and last name joined, or the username.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

// Clone returns a deep copy so a turn can mutate it freely.
func (u *User) Clone() *User {
	c := *u
	c.Data = u.Data.Clone()
	return &c
}
