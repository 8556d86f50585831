package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// TriggerDefault marks a flow that answers free text when no command matched.
const TriggerDefault = "default"

// Flow is an admin-authored conversation script of a flow-driven bot.
type Flow struct {
	ID          int64           `db:"id" json:"id"`
	BotID       string          `db:"bot_id" json:"bot_id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description,omitempty"`
	Definition  json.RawMessage `db:"flow_data" json:"flow_data"`
	IsDefault   bool            `db:"is_default" json:"is_default"`
	IsActive    bool            `db:"is_active" json:"is_active"`
	// Trigger is the command token (for example "/order") that starts the flow.
	Trigger   string    `db:"trigger_command" json:"trigger_command,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// NormalizeTrigger lower-cases a trigger and adds the command slash. A default
// flow without a trigger gets TriggerDefault.
func NormalizeTrigger(raw string, isDefault bool) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case t == "" && isDefault:
		return TriggerDefault
	case t != "" && t != TriggerDefault && !strings.HasPrefix(t, "/"):
		return "/" + t
	}
	return t
}
