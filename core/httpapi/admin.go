package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/m3rciful/flowbot/core/domain"
	"github.com/m3rciful/flowbot/core/flow"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/store"
	"github.com/m3rciful/flowbot/core/telegram"
)

type createBotRequest struct {
	Name             string         `json:"name" binding:"required"`
	Token            string         `json:"token" binding:"required"`
	BotType          domain.BotType `json:"bot_type"`
	WelcomeEnabled   bool           `json:"has_welcome_message"`
	WelcomeText      string         `json:"welcome_text"`
	PhoneRequired    bool           `json:"has_get_number"`
	PhonePrompt      string         `json:"get_number_text"`
	AfterPhoneText   string         `json:"after_number_text"`
	AutoSetupWebhook *bool          `json:"auto_setup_webhook"`
	IsActive         *bool          `json:"is_active"`
}

func (h *handlers) createBot(c *gin.Context) {
	ctx := c.Request.Context()
	var req createBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
		return
	}
	if req.BotType == "" {
		req.BotType = domain.BotPlain
	}
	botType, known := req.BotType.Canonical()
	if !known {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "unknown bot_type"})
		return
	}

	token := strings.TrimSpace(req.Token)
	username, err := h.deps.Provider.VerifyToken(ctx, token)
	if err != nil {
		logger.Warn(ctx, logger.CompHTTP, "bot.verify_failed", slog.String("err", logger.Err(err)))
		c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid bot token"})
		return
	}

	bot := &domain.Bot{
		ID:               uuid.NewString(),
		Name:             strings.TrimSpace(req.Name),
		Token:            token,
		Username:         username,
		Type:             botType,
		WelcomeEnabled:   req.WelcomeEnabled,
		WelcomeText:      req.WelcomeText,
		PhoneRequired:    req.PhoneRequired,
		PhonePrompt:      req.PhonePrompt,
		AfterPhoneText:   req.AfterPhoneText,
		AutoSetupWebhook: boolOr(req.AutoSetupWebhook, true),
		IsActive:         boolOr(req.IsActive, true),
	}
	if err := h.deps.Store.CreateBot(ctx, bot); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"msg": "bot already registered"})
			return
		}
		h.internal(c, "bot.create_failed", err)
		return
	}
	logger.Info(ctx, logger.CompHTTP, "bot.created",
		slog.String("bot_id", bot.ID),
		slog.String("bot_type", string(bot.Type)),
	)

	if bot.AutoSetupWebhook && h.deps.PublicURL != "" {
		url := telegram.WebhookURL(h.deps.PublicURL, bot.ID)
		if err := h.registerWebhook(c, bot, url); err != nil {
			logger.Warn(ctx, logger.CompHTTP, "bot.webhook_auto_failed",
				slog.String("bot_id", bot.ID),
				slog.String("err", logger.Err(err)),
			)
		}
	}
	c.JSON(http.StatusCreated, bot)
}

func (h *handlers) listBots(c *gin.Context) {
	bots, err := h.deps.Store.ListBots(c.Request.Context())
	if err != nil {
		h.internal(c, "bot.list_failed", err)
		return
	}
	if bots == nil {
		bots = []domain.Bot{}
	}
	c.JSON(http.StatusOK, bots)
}

func (h *handlers) getBot(c *gin.Context) {
	bot, ok := h.loadBot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, bot)
}

type webhookRequest struct {
	WebhookURL string `json:"webhook_url"`
}

// setWebhook registers the delivery URL with the provider. The body may name
// a base URL; otherwise the configured public URL is used.
func (h *handlers) setWebhook(c *gin.Context) {
	bot, ok := h.loadBot(c)
	if !ok {
		return
	}
	var req webhookRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
			return
		}
	}
	base := strings.TrimSpace(req.WebhookURL)
	if base == "" {
		base = h.deps.PublicURL
	}
	if base == "" {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "webhook_url is required"})
		return
	}
	url := telegram.WebhookURL(base, bot.ID)
	if err := h.registerWebhook(c, bot, url); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"msg": "failed to set webhook", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "webhook_url": url})
}

func (h *handlers) deleteWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	bot, ok := h.loadBot(c)
	if !ok {
		return
	}
	if err := h.deps.Provider.RemoveWebhook(ctx, bot.Token); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"msg": "failed to remove webhook", "error": err.Error()})
		return
	}
	if err := h.deps.Store.SetWebhook(ctx, bot.ID, false, ""); err != nil {
		h.internal(c, "bot.webhook_store_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) stats(c *gin.Context) {
	st, err := h.deps.Store.Stats(c.Request.Context(), c.Param("bot_id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"msg": "bot not found"})
		return
	}
	if err != nil {
		h.internal(c, "bot.stats_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type createFlowRequest struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	FlowData    json.RawMessage `json:"flow_data" binding:"required"`
	IsDefault   bool            `json:"is_default"`
	IsActive    *bool           `json:"is_active"`
	Trigger     string          `json:"trigger_command"`
}

func (h *handlers) createFlow(c *gin.Context) {
	ctx := c.Request.Context()
	bot, ok := h.loadBot(c)
	if !ok {
		return
	}
	var req createFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": err.Error()})
		return
	}
	def, err := flow.Parse(req.FlowData)
	if err == nil {
		err = def.Validate()
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid flow_data", "error": err.Error()})
		return
	}

	f := &domain.Flow{
		BotID:       bot.ID,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Definition:  req.FlowData,
		IsDefault:   req.IsDefault,
		IsActive:    boolOr(req.IsActive, true),
		Trigger:     domain.NormalizeTrigger(req.Trigger, req.IsDefault),
	}
	if err := h.deps.Store.CreateFlow(ctx, f); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"msg": "bot already has an active default flow"})
			return
		}
		h.internal(c, "flow.create_failed", err)
		return
	}
	logger.Info(ctx, logger.CompHTTP, "flow.created",
		slog.String("bot_id", bot.ID),
		slog.Int64("flow_id", f.ID),
		slog.String("shape", def.Shape.String()),
	)
	c.JSON(http.StatusCreated, f)
}

func (h *handlers) listFlows(c *gin.Context) {
	bot, ok := h.loadBot(c)
	if !ok {
		return
	}
	flows, err := h.deps.Store.ListFlows(c.Request.Context(), bot.ID)
	if err != nil {
		h.internal(c, "flow.list_failed", err)
		return
	}
	if flows == nil {
		flows = []domain.Flow{}
	}
	c.JSON(http.StatusOK, flows)
}

func (h *handlers) registerWebhook(c *gin.Context, bot *domain.Bot, url string) error {
	ctx := c.Request.Context()
	if err := h.deps.Provider.SetWebhook(ctx, bot.Token, url); err != nil {
		return err
	}
	if err := h.deps.Store.SetWebhook(ctx, bot.ID, true, url); err != nil {
		return err
	}
	bot.IsWebhookSet, bot.WebhookURL = true, url
	return nil
}

func (h *handlers) loadBot(c *gin.Context) (*domain.Bot, bool) {
	bot, err := h.deps.Store.GetBot(c.Request.Context(), c.Param("bot_id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"msg": "bot not found"})
		return nil, false
	}
	if err != nil {
		h.internal(c, "bot.get_failed", err)
		return nil, false
	}
	return bot, true
}

func (h *handlers) internal(c *gin.Context, event string, err error) {
	logger.Error(c.Request.Context(), logger.CompHTTP, event, slog.String("err", logger.Err(err)))
	c.JSON(http.StatusInternalServerError, gin.H{"msg": "internal error"})
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
