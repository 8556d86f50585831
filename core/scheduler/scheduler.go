// Package scheduler runs periodic maintenance for the configured bots.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/m3rciful/flowbot/core/engine"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/store"
	"github.com/m3rciful/flowbot/core/telegram"
)

// WebhookClient registers webhooks and command menus with the provider.
type WebhookClient interface {
	SetWebhook(ctx context.Context, token, url string) error
	SetCommands(ctx context.Context, token string, cmds []engine.CommandInfo) error
}

// WebhookSync registers the delivery URL of every active bot that asked for
// automatic setup and is not registered yet.
type WebhookSync struct {
	bots      store.Bots
	client    WebhookClient
	publicURL string
	commands  []engine.CommandInfo
}

// NewWebhookSync builds the job. commands may be empty, in which case the
// command menu is left alone.
func NewWebhookSync(bots store.Bots, client WebhookClient, publicURL string, commands []engine.CommandInfo) *WebhookSync {
	return &WebhookSync{bots: bots, client: client, publicURL: publicURL, commands: commands}
}

// Run performs one pass and returns how many bots were registered.
func (w *WebhookSync) Run(ctx context.Context) int {
	if w.publicURL == "" {
		return 0
	}
	start := time.Now()
	bots, err := w.bots.ListBots(ctx)
	if err != nil {
		logger.Error(ctx, logger.CompScheduler, "webhook_sync.list_failed", slog.String("err", logger.Err(err)))
		return 0
	}

	registered, failed := 0, 0
	for i := range bots {
		b := &bots[i]
		if !b.IsActive || !b.AutoSetupWebhook || b.IsWebhookSet {
			continue
		}
		url := telegram.WebhookURL(w.publicURL, b.ID)
		if err := w.client.SetWebhook(ctx, b.Token, url); err != nil {
			failed++
			logger.Warn(ctx, logger.CompScheduler, "webhook_sync.set_failed",
				slog.String("bot_id", b.ID),
				slog.String("err", logger.Err(err)),
			)
			continue
		}
		if err := w.bots.SetWebhook(ctx, b.ID, true, url); err != nil {
			failed++
			logger.Warn(ctx, logger.CompScheduler, "webhook_sync.store_failed",
				slog.String("bot_id", b.ID),
				slog.String("err", logger.Err(err)),
			)
			continue
		}
		registered++
		if len(w.commands) > 0 {
			if err := w.client.SetCommands(ctx, b.Token, w.commands); err != nil {
				logger.Warn(ctx, logger.CompScheduler, "webhook_sync.commands_failed",
					slog.String("bot_id", b.ID),
					slog.String("err", logger.Err(err)),
				)
			}
		}
	}

	if registered > 0 || failed > 0 {
		status := "ok"
		if failed > 0 {
			status = "warn"
		}
		logger.Info(ctx, logger.CompScheduler, "webhook_sync.done",
			slog.String("status", status),
			slog.Int("registered", registered),
			slog.Int("failed", failed),
			slog.Duration("duration", logger.RoundMS(logger.Took(start))),
		)
	}
	return registered
}

// Start schedules the sync every interval, first run immediately. The caller
// owns the returned scheduler and must shut it down.
func Start(ctx context.Context, job *WebhookSync, interval time.Duration) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { job.Run(ctx) }),
		gocron.WithName("webhook_sync"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, err
	}
	s.Start()
	logger.Info(ctx, logger.CompScheduler, "scheduler.start", slog.Duration("interval", interval))
	return s, nil
}
