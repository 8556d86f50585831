package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/m3rciful/flowbot/core/domain"
	"github.com/m3rciful/flowbot/core/engine"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/store"
	"github.com/m3rciful/flowbot/core/telegram"
	"github.com/m3rciful/flowbot/core/worker"
)

type handlers struct {
	deps    Deps
	limiter *chatLimiter
}

// webhook acknowledges a provider delivery as soon as it is queued. Turn
// failures never reach the provider; they are logged by the engine and pool.
func (h *handlers) webhook(c *gin.Context) {
	ctx := c.Request.Context()
	botID := c.Param("bot_id")

	bot, err := h.deps.Store.GetBot(ctx, botID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "bot not found"})
		return
	}
	if err != nil {
		logger.Error(ctx, logger.CompHTTP, "webhook.bot_lookup_failed",
			slog.String("bot_id", botID),
			slog.String("err", logger.Err(err)),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal error"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "unreadable body"})
		return
	}
	upd, err := telegram.DecodeUpdate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid update"})
		return
	}

	if err := h.deps.Store.IncrementRequests(ctx, bot.ID); err != nil {
		logger.Warn(ctx, logger.CompHTTP, "webhook.count_failed",
			slog.String("bot_id", bot.ID),
			slog.String("err", logger.Err(err)),
		)
	}

	ev, ok := telegram.EventFromUpdate(upd)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}
	if h.limiter != nil && !h.limiter.Allow(bot.ID, ev.ChatID) {
		logger.Debug(ctx, logger.CompHTTP, "webhook.throttled",
			slog.String("bot_id", bot.ID),
			slog.Int64("chat_id", ev.ChatID),
			slog.String("outcome", "rate_limited"),
		)
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	if err := h.deps.Pool.Submit(ctx, turnTask(h.deps.Engine, bot, ev)); err != nil {
		outcome := "dropped"
		if errors.Is(err, worker.ErrQueueFull) {
			outcome = "queue_full"
		}
		logger.Warn(ctx, logger.CompHTTP, "webhook.enqueue_failed",
			slog.String("bot_id", bot.ID),
			slog.Int64("chat_id", ev.ChatID),
			slog.String("outcome", outcome),
			slog.String("err", logger.Err(err)),
		)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func turnTask(th TurnHandler, bot *domain.Bot, ev engine.Event) worker.Task {
	return worker.Task{
		Name: "turn",
		Key:  fmt.Sprintf("%s:%d", bot.ID, ev.ChatID),
		Run: func(ctx context.Context) error {
			_, err := th.Handle(ctx, bot, ev)
			return err
		},
	}
}
