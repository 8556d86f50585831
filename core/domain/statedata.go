package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known state_data keys.
const (
	KeyCurrentStep = "current_step"
	KeyTickets     = "tickets"
)

// StateData is the free-form progress bag persisted with a user. Values are
// whatever JSON can hold.
type StateData map[string]any

// String returns the value under key rendered as text, or "".
func (d StateData) String(key string) string {
	switch v := d[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Has reports whether key is present.
func (d StateData) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Clone deep-copies the bag through its JSON form.
func (d StateData) Clone() StateData {
	if d == nil {
		return StateData{}
	}
	raw, err := json.Marshal(d)
	if err != nil {
		out := make(StateData, len(d))
		for k, v := range d {
			out[k] = v
		}
		return out
	}
	var out StateData
	_ = json.Unmarshal(raw, &out)
	if out == nil {
		out = StateData{}
	}
	return out
}

// Value implements driver.Valuer for JSONB columns.
func (d StateData) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner for JSONB columns.
func (d *StateData) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = StateData{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("state_data: unsupported scan type")
	}
	out := StateData{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("state_data: %w", err)
		}
	}
	*d = out
	return nil
}

// Ticket is a support request kept inside state_data.
type Ticket struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Tickets decodes the ticket list stored under KeyTickets.
func (d StateData) Tickets() []Ticket {
	raw, ok := d[KeyTickets]
	if !ok {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var out []Ticket
	if json.Unmarshal(b, &out) != nil {
		return nil
	}
	return out
}

// AppendTicket adds t to the ticket list.
func (d StateData) AppendTicket(t Ticket) {
	tickets := append(d.Tickets(), t)
	list := make([]any, len(tickets))
	for i, tk := range tickets {
		list[i] = map[string]any{
			"id":          tk.ID,
			"description": tk.Description,
			"status":      tk.Status,
		}
	}
	d[KeyTickets] = list
}
