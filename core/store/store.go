// Package store persists bots, users, flows and the message audit trail.
package store

import (
	"context"
	"errors"

	"github.com/m3rciful/flowbot/core/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a conditional write lost a race or hit a unique key.
	ErrConflict = errors.New("store: conflict")
)

// Bots manages bot records.
type Bots interface {
	GetBot(ctx context.Context, id string) (*domain.Bot, error)
	ListBots(ctx context.Context) ([]domain.Bot, error)
	CreateBot(ctx context.Context, b *domain.Bot) error
	SetWebhook(ctx context.Context, id string, set bool, url string) error
	IncrementRequests(ctx context.Context, id string) error
	Stats(ctx context.Context, id string) (domain.BotStats, error)
}

// Users manages per-bot users and their conversation state.
type Users interface {
	// GetOrCreateUser returns the user for (botID, chatID), creating it in
	// state "new" on first contact. Creation bumps the bot's user count once.
	GetOrCreateUser(ctx context.Context, botID string, chatID int64, p domain.Profile) (*domain.User, bool, error)
	// SaveUser writes every mutable column in one statement. It fails with
	// ErrConflict when the stored version differs from u.Version and bumps
	// u.Version on success.
	SaveUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, botID string, chatID int64) (*domain.User, error)
}

// Flows manages flow definitions.
type Flows interface {
	DefaultFlow(ctx context.Context, botID string) (*domain.Flow, error)
	FlowByTrigger(ctx context.Context, botID, trigger string) (*domain.Flow, error)
	CreateFlow(ctx context.Context, f *domain.Flow) error
	ListFlows(ctx context.Context, botID string) ([]domain.Flow, error)
}

// Messages appends audit records.
type Messages interface {
	AppendMessage(ctx context.Context, m *domain.MessageRecord) error
}

// Store is the full persistence surface.
type Store interface {
	Bots
	Users
	Flows
	Messages
}
