package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/m3rciful/flowbot/core/domain"
	"github.com/m3rciful/flowbot/core/flow"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/store"
)

// Seeder loads reference data into the store.
type Seeder interface {
	Seed(ctx context.Context, st store.Store) error
}

// SeederFunc adapts a bare function to the Seeder interface.
type SeederFunc func(ctx context.Context, st store.Store) error

// Seed executes the underlying function.
func (f SeederFunc) Seed(ctx context.Context, st store.Store) error {
	return f(ctx, st)
}

// SeedFile is the YAML document describing bots and their flows.
type SeedFile struct {
	Bots []SeedBot `yaml:"bots"`
}

// SeedBot mirrors the admin API bot payload.
type SeedBot struct {
	ID               string     `yaml:"id"`
	Name             string     `yaml:"name"`
	Token            string     `yaml:"token"`
	Username         string     `yaml:"username"`
	Type             string     `yaml:"bot_type"`
	WelcomeEnabled   *bool      `yaml:"has_welcome_message"`
	WelcomeText      string     `yaml:"welcome_text"`
	PhoneRequired    bool       `yaml:"has_get_number"`
	PhonePrompt      string     `yaml:"get_number_text"`
	AfterPhoneText   string     `yaml:"after_number_text"`
	AutoSetupWebhook *bool      `yaml:"auto_setup_webhook"`
	IsActive         *bool      `yaml:"is_active"`
	Flows            []SeedFlow `yaml:"flows"`
}

// SeedFlow is one flow script. Data holds the script in YAML form and is
// stored as JSON.
type SeedFlow struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Trigger     string         `yaml:"trigger_command"`
	IsDefault   bool           `yaml:"is_default"`
	Data        map[string]any `yaml:"flow_data"`
}

// LoadSeedFile parses and validates a seed document.
func LoadSeedFile(path string) (*SeedFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var sf SeedFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, b := range sf.Bots {
		if strings.TrimSpace(b.Token) == "" {
			return nil, fmt.Errorf("seed bot %d: token is required", i)
		}
		if b.ID != "" {
			if _, err := uuid.Parse(b.ID); err != nil {
				return nil, fmt.Errorf("seed bot %d: id must be a uuid: %w", i, err)
			}
		}
		if _, ok := domain.BotType(b.Type).Canonical(); b.Type != "" && !ok {
			return nil, fmt.Errorf("seed bot %d: unknown bot_type %q", i, b.Type)
		}
		for j, f := range b.Flows {
			if _, err := f.definition(); err != nil {
				return nil, fmt.Errorf("seed bot %d flow %d: %w", i, j, err)
			}
		}
	}
	return &sf, nil
}

// FileSeeder returns a seeder that applies the document at path.
func FileSeeder(path string) Seeder {
	return SeederFunc(func(ctx context.Context, st store.Store) error {
		sf, err := LoadSeedFile(path)
		if err != nil {
			return err
		}
		return sf.Apply(ctx, st)
	})
}

// Apply creates the bots that do not exist yet together with their flows.
// Bots that are already registered, by id or token, are left untouched.
func (sf *SeedFile) Apply(ctx context.Context, st store.Store) error {
	created, skipped := 0, 0
	for _, sb := range sf.Bots {
		bot := sb.bot()
		err := st.CreateBot(ctx, bot)
		if errors.Is(err, store.ErrConflict) {
			skipped++
			logger.Debug(ctx, logger.CompSeed, "seed.bot_exists", slog.String("bot_id", bot.ID))
			continue
		}
		if err != nil {
			return fmt.Errorf("seed bot %q: %w", sb.Name, err)
		}
		created++
		for _, sfl := range sb.Flows {
			raw, _ := sfl.definition()
			f := &domain.Flow{
				BotID:       bot.ID,
				Name:        sfl.Name,
				Description: sfl.Description,
				Definition:  raw,
				IsDefault:   sfl.IsDefault,
				IsActive:    true,
				Trigger:     domain.NormalizeTrigger(sfl.Trigger, sfl.IsDefault),
			}
			if err := st.CreateFlow(ctx, f); err != nil {
				return fmt.Errorf("seed flow %q of bot %q: %w", sfl.Name, sb.Name, err)
			}
		}
	}
	logger.Info(ctx, logger.CompSeed, "seed.applied",
		slog.String("status", "ok"),
		slog.Int("created", created),
		slog.Int("skipped", skipped),
	)
	return nil
}

func (sb SeedBot) bot() *domain.Bot {
	id := sb.ID
	if id == "" {
		id = uuid.NewString()
	}
	typ, _ := domain.BotType(sb.Type).Canonical()
	return &domain.Bot{
		ID:               id,
		Name:             sb.Name,
		Token:            strings.TrimSpace(sb.Token),
		Username:         sb.Username,
		Type:             typ,
		WelcomeEnabled:   boolOr(sb.WelcomeEnabled, true),
		WelcomeText:      sb.WelcomeText,
		PhoneRequired:    sb.PhoneRequired,
		PhonePrompt:      sb.PhonePrompt,
		AfterPhoneText:   sb.AfterPhoneText,
		AutoSetupWebhook: boolOr(sb.AutoSetupWebhook, true),
		IsActive:         boolOr(sb.IsActive, true),
	}
}

func (f SeedFlow) definition() (json.RawMessage, error) {
	raw, err := json.Marshal(f.Data)
	if err != nil {
		return nil, fmt.Errorf("encode flow_data: %w", err)
	}
	def, err := flow.Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return raw, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
