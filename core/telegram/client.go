// Package telegram talks to the Telegram Bot API on behalf of every configured
// bot: outbound messages with reply keyboards, webhook registration, and
// decoding of inbound webhook updates.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/domain"
	"github.com/m3rciful/flowbot/core/engine"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/personality"
	"github.com/m3rciful/flowbot/core/telegram/netutil"
)

// ErrNoToken is returned for bots without a credential.
var ErrNoToken = errors.New("telegram: bot has no token")

// Client is a pool of Bot API handles keyed by token. Handles are created
// offline and share one HTTP client.
type Client struct {
	apiURL string
	http   *http.Client

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

// NewClient builds the shared HTTP client from cfg.
func NewClient(cfg config.TelegramConfig) (*Client, error) {
	hc, err := BuildHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewClientWithHTTP(cfg.APIURL, hc), nil
}

// NewClientWithHTTP uses the provided HTTP client as is.
func NewClientWithHTTP(apiURL string, hc *http.Client) *Client {
	return &Client{apiURL: apiURL, http: hc, bots: make(map[string]*tele.Bot)}
}

func (c *Client) handle(token string) (*tele.Bot, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.bots[token]; ok {
		return b, nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     c.apiURL,
		Client:  c.http,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	c.bots[token] = b
	return b, nil
}

// Forget drops the pooled handle of a token.
func (c *Client) Forget(token string) {
	c.mu.Lock()
	delete(c.bots, token)
	c.mu.Unlock()
}

// Send delivers one message and returns its provider message id.
func (c *Client) Send(ctx context.Context, bot *domain.Bot, chatID int64, msg personality.Outbound) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b, err := c.handle(bot.Token)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	opts := &tele.SendOptions{ReplyMarkup: markupFor(msg.Affordance)}
	m, err := b.Send(tele.ChatID(chatID), msg.Text, opts)
	if err != nil {
		logger.Warn(ctx, logger.CompSender, "send.fail",
			slog.String("affordance", msg.Affordance.String()),
			slog.String("err", logger.Err(err)),
			slog.String("err_kind", netutil.Classify(err)),
			slog.Duration("duration", logger.RoundMS(logger.Took(start))),
		)
		return 0, err
	}
	logger.Debug(ctx, logger.CompSender, "send.success",
		slog.Int("message_id", m.ID),
		slog.String("affordance", msg.Affordance.String()),
		slog.Duration("duration", logger.RoundMS(logger.Took(start))),
	)
	return m.ID, nil
}

// VerifyToken calls getMe and returns the bot username.
func (c *Client) VerifyToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrNoToken
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := tele.NewBot(tele.Settings{Token: token, URL: c.apiURL, Client: c.http})
	if err != nil {
		return "", fmt.Errorf("telegram: verify token: %w", err)
	}
	return b.Me.Username, nil
}

// SetWebhook points the bot's updates at url.
func (c *Client) SetWebhook(ctx context.Context, token, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := c.handle(token)
	if err != nil {
		return err
	}
	if err := b.SetWebhook(&tele.Webhook{Endpoint: &tele.WebhookEndpoint{PublicURL: url}}); err != nil {
		return fmt.Errorf("telegram: set webhook: %w", err)
	}
	logger.Info(ctx, logger.CompTelegram, "webhook.set", slog.String("public_url", url))
	return nil
}

// RemoveWebhook unregisters the bot's webhook.
func (c *Client) RemoveWebhook(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := c.handle(token)
	if err != nil {
		return err
	}
	if err := b.RemoveWebhook(); err != nil {
		return fmt.Errorf("telegram: remove webhook: %w", err)
	}
	logger.Info(ctx, logger.CompTelegram, "webhook.removed")
	return nil
}

// SetCommands publishes the command menu shown by Telegram clients.
func (c *Client) SetCommands(ctx context.Context, token string, cmds []engine.CommandInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := c.handle(token)
	if err != nil {
		return err
	}
	list := make([]tele.Command, 0, len(cmds))
	for _, cmd := range cmds {
		list = append(list, tele.Command{Text: cmd.Name, Description: cmd.Description})
	}
	if err := b.SetCommands(list); err != nil {
		return fmt.Errorf("telegram: set commands: %w", err)
	}
	return nil
}

// WebhookURL joins the public base and the per-bot delivery path.
func WebhookURL(base, botID string) string {
	return strings.TrimRight(base, "/") + "/api/webhook/" + botID
}
