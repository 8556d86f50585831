package logger

import (
	"context"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

type ctxKey int

const (
	keyRID ctxKey = iota
	keyBotID
	keyChatID
	keyUpdateID
	keyHandler
)

// NewRID returns a short random correlation id.
func NewRID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// WithRID attaches a request correlation id to ctx.
func WithRID(ctx context.Context, rid string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, keyRID, rid)
}

// RIDFrom returns the correlation id carried by ctx.
func RIDFrom(ctx context.Context) string {
	return ctxString(ctx, keyRID)
}

// WithTurn attaches the identifiers of the turn being processed.
func WithTurn(ctx context.Context, botID string, chatID int64, updateID int) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, keyBotID, botID)
	ctx = context.WithValue(ctx, keyChatID, chatID)
	return context.WithValue(ctx, keyUpdateID, updateID)
}

// WithHandler names the engine handler (command, text, contact) serving the turn.
func WithHandler(ctx context.Context, handler string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if handler == "" {
		return ctx
	}
	return context.WithValue(ctx, keyHandler, handler)
}

// BotIDFrom returns the bot id carried by ctx.
func BotIDFrom(ctx context.Context) string { return ctxString(ctx, keyBotID) }

// HandlerFrom returns the handler name carried by ctx.
func HandlerFrom(ctx context.Context) string { return ctxString(ctx, keyHandler) }

// ChatIDFrom returns the chat id carried by ctx.
func ChatIDFrom(ctx context.Context) int64 {
	if ctx == nil {
		return 0
	}
	id, _ := ctx.Value(keyChatID).(int64)
	return id
}

// UpdateIDFrom returns the provider update id carried by ctx.
func UpdateIDFrom(ctx context.Context) int {
	if ctx == nil {
		return 0
	}
	id, _ := ctx.Value(keyUpdateID).(int)
	return id
}

func ctxString(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(key).(string)
	return s
}

// Sanitize drops control and format runes except tab and newline.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}

// SanitizeLimit sanitizes s and truncates it to max runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(Sanitize(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max])
}
