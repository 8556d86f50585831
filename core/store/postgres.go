package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/flowbot/core/domain"
	"github.com/m3rciful/flowbot/core/logger"
)

const (
	botColumns = `id, name, token, username, bot_type, has_welcome_message, welcome_text,
		has_get_number, get_number_text, after_number_text, user_count, request_count,
		auto_setup_webhook, is_webhook_set, webhook_url, is_active, created_at, updated_at`

	userColumns = `id, bot_id, chat_id, username, first_name, last_name, language_code,
		phone_number, user_state, state_data, is_blocked, is_active, version,
		first_interaction, last_interaction`

	flowColumns = `id, bot_id, name, description, flow_data, is_default, is_active,
		trigger_command, created_at, updated_at`
)

// Postgres is the sqlx-backed Store.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// notFound maps an empty result to ErrNotFound. A key that is not even a
// valid uuid (invalid_text_representation) cannot match a row either.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "22P02" {
		return ErrNotFound
	}
	return err
}

// uniqueViolation maps the postgres unique_violation code to ErrConflict.
func uniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
	}
	return err
}

func (p *Postgres) GetBot(ctx context.Context, id string) (*domain.Bot, error) {
	var b domain.Bot
	if err := p.db.GetContext(ctx, &b, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id); err != nil {
		return nil, fmt.Errorf("get bot %s: %w", id, notFound(err))
	}
	return &b, nil
}

func (p *Postgres) ListBots(ctx context.Context) ([]domain.Bot, error) {
	var out []domain.Bot
	if err := p.db.SelectContext(ctx, &out, `SELECT `+botColumns+` FROM bots ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	return out, nil
}

func (p *Postgres) CreateBot(ctx context.Context, b *domain.Bot) error {
	const q = `INSERT INTO bots (id, name, token, username, bot_type, has_welcome_message, welcome_text,
			has_get_number, get_number_text, after_number_text, auto_setup_webhook, is_active)
		VALUES (:id, :name, :token, :username, :bot_type, :has_welcome_message, :welcome_text,
			:has_get_number, :get_number_text, :after_number_text, :auto_setup_webhook, :is_active)
		RETURNING created_at, updated_at`
	rows, err := p.db.NamedQueryContext(ctx, q, b)
	if err != nil {
		return fmt.Errorf("create bot: %w", uniqueViolation(err))
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&b.CreatedAt, &b.UpdatedAt); err != nil {
			return fmt.Errorf("create bot: %w", err)
		}
	}
	return rows.Err()
}

func (p *Postgres) SetWebhook(ctx context.Context, id string, set bool, url string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE bots SET is_webhook_set = $2, webhook_url = $3, updated_at = NOW() WHERE id = $1`,
		id, set, url)
	if err != nil {
		return fmt.Errorf("set webhook %s: %w", id, err)
	}
	return affectedOne(res, ErrNotFound)
}

func (p *Postgres) IncrementRequests(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE bots SET request_count = request_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment requests %s: %w", id, err)
	}
	return affectedOne(res, ErrNotFound)
}

func (p *Postgres) Stats(ctx context.Context, id string) (domain.BotStats, error) {
	var st domain.BotStats
	const q = `SELECT b.user_count, b.request_count,
			COUNT(m.id) AS total_messages,
			COUNT(m.id) FILTER (WHERE m.direction = 'incoming') AS incoming_messages,
			COUNT(m.id) FILTER (WHERE m.direction = 'outgoing') AS outgoing_messages
		FROM bots b LEFT JOIN bot_messages m ON m.bot_id = b.id
		WHERE b.id = $1
		GROUP BY b.id`
	if err := p.db.GetContext(ctx, &st, q, id); err != nil {
		return st, fmt.Errorf("stats %s: %w", id, notFound(err))
	}
	return st, nil
}

// GetOrCreateUser relies on the (bot_id, chat_id) unique key: concurrent
// first contacts race on the insert and exactly one of them sees a row back.
func (p *Postgres) GetOrCreateUser(ctx context.Context, botID string, chatID int64, prof domain.Profile) (*domain.User, bool, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var u domain.User
	err = tx.GetContext(ctx, &u, `INSERT INTO bot_users (bot_id, chat_id, username, first_name, last_name, language_code)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (bot_id, chat_id) DO NOTHING
		RETURNING `+userColumns,
		botID, chatID, prof.Username, prof.FirstName, prof.LastName, prof.LanguageCode)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `UPDATE bots SET user_count = user_count + 1 WHERE id = $1`, botID); err != nil {
			return nil, false, fmt.Errorf("bump user count: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit: %w", err)
		}
		logger.Info(ctx, logger.CompStore, "user.created", slog.Int64("user_id", u.ID))
		return &u, true, nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return nil, false, fmt.Errorf("create user: %w", ErrNotFound)
		}
		return nil, false, fmt.Errorf("create user: %w", err)
	}

	if err := tx.GetContext(ctx, &u, `SELECT `+userColumns+` FROM bot_users WHERE bot_id = $1 AND chat_id = $2`, botID, chatID); err != nil {
		return nil, false, fmt.Errorf("load user: %w", notFound(err))
	}
	return &u, false, tx.Commit()
}

func (p *Postgres) SaveUser(ctx context.Context, u *domain.User) error {
	const q = `UPDATE bot_users SET
			username = :username, first_name = :first_name, last_name = :last_name,
			language_code = :language_code, phone_number = :phone_number,
			user_state = :user_state, state_data = :state_data,
			is_blocked = :is_blocked, is_active = :is_active,
			version = version + 1, last_interaction = NOW()
		WHERE id = :id AND version = :version`
	res, err := p.db.NamedExecContext(ctx, q, u)
	if err != nil {
		return fmt.Errorf("save user %d: %w", u.ID, err)
	}
	if err := affectedOne(res, ErrConflict); err != nil {
		return fmt.Errorf("save user %d: %w", u.ID, err)
	}
	u.Version++
	u.LastInteraction = time.Now()
	return nil
}

func (p *Postgres) GetUser(ctx context.Context, botID string, chatID int64) (*domain.User, error) {
	var u domain.User
	if err := p.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM bot_users WHERE bot_id = $1 AND chat_id = $2`, botID, chatID); err != nil {
		return nil, fmt.Errorf("get user: %w", notFound(err))
	}
	return &u, nil
}

func (p *Postgres) DefaultFlow(ctx context.Context, botID string) (*domain.Flow, error) {
	var f domain.Flow
	err := p.db.GetContext(ctx, &f, `SELECT `+flowColumns+` FROM bot_flows
		WHERE bot_id = $1 AND is_default AND is_active LIMIT 1`, botID)
	if err != nil {
		return nil, fmt.Errorf("default flow: %w", notFound(err))
	}
	return &f, nil
}

func (p *Postgres) FlowByTrigger(ctx context.Context, botID, trigger string) (*domain.Flow, error) {
	var f domain.Flow
	err := p.db.GetContext(ctx, &f, `SELECT `+flowColumns+` FROM bot_flows
		WHERE bot_id = $1 AND trigger_command = $2 AND trigger_command <> '' AND is_active
		ORDER BY id LIMIT 1`, botID, trigger)
	if err != nil {
		return nil, fmt.Errorf("flow %s: %w", trigger, notFound(err))
	}
	return &f, nil
}

func (p *Postgres) CreateFlow(ctx context.Context, f *domain.Flow) error {
	const q = `INSERT INTO bot_flows (bot_id, name, description, flow_data, is_default, is_active, trigger_command)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	err := p.db.QueryRowxContext(ctx, q,
		f.BotID, f.Name, f.Description, []byte(f.Definition), f.IsDefault, f.IsActive, f.Trigger,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create flow: %w", uniqueViolation(err))
	}
	return nil
}

func (p *Postgres) ListFlows(ctx context.Context, botID string) ([]domain.Flow, error) {
	var out []domain.Flow
	if err := p.db.SelectContext(ctx, &out, `SELECT `+flowColumns+` FROM bot_flows WHERE bot_id = $1 ORDER BY id`, botID); err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	return out, nil
}

func (p *Postgres) AppendMessage(ctx context.Context, m *domain.MessageRecord) error {
	const q = `INSERT INTO bot_messages (bot_id, user_id, flow_id, message_type, direction, text, file_url, external_message_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`
	err := p.db.QueryRowxContext(ctx, q,
		m.BotID, m.UserID, m.FlowID, m.Kind, m.Direction, m.Text, m.FileRef, m.ExternalMessageID,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func affectedOne(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}
