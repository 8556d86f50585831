package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/m3rciful/flowbot/core/logger"
)

const (
	headerRequestID = "X-Request-ID"
	ctxSubjectKey   = "admin_subject"
)

// requestLogger attaches a request id to the request context and logs one
// summary line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := strings.TrimSpace(c.GetHeader(headerRequestID))
		if rid == "" || len(rid) > 64 {
			rid = logger.NewRID()
		}
		c.Request = c.Request.WithContext(logger.WithRID(c.Request.Context(), rid))
		c.Header(headerRequestID, rid)

		c.Next()

		code := c.Writer.Status()
		status := "ok"
		level := slog.LevelDebug
		switch {
		case code >= 500:
			status, level = "fail", slog.LevelError
		case code >= 400:
			status, level = "fail", slog.LevelWarn
		}
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		logger.Log(c.Request.Context(), logger.CompHTTP, level, "request.handled",
			slog.String("status", status),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("http_code", code),
			slog.Duration("duration", logger.RoundMS(logger.Took(start))),
		)
	}
}

// recoverer turns a handler panic into a 500 without leaking details.
func recoverer() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context(), logger.CompHTTP, "panic.recovered",
					slog.String("err", fmt.Sprint(r)),
					slog.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"msg": "internal error"})
			}
		}()
		c.Next()
	}
}

// authMiddleware accepts HS256 bearer tokens signed with secret.
func authMiddleware(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "missing authorization header"})
			return
		}
		parts := strings.Fields(auth)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid authorization header"})
			return
		}

		token, err := jwt.ParseWithClaims(parts[1], &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenUnverifiable
			}
			return key, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid token"})
			return
		}
		claims, ok := token.Claims.(*jwt.RegisteredClaims)
		if !ok || claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "invalid subject in token"})
			return
		}
		c.Set(ctxSubjectKey, claims.Subject)
		c.Next()
	}
}

// IssueToken mints an admin token for subject valid for ttl.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("httpapi: empty jwt secret")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// chatLimiter enforces a minimum interval between deliveries of one chat.
type chatLimiter struct {
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

const limiterSweepAt = 10000

func newChatLimiter(interval time.Duration) *chatLimiter {
	return &chatLimiter{interval: interval, now: time.Now, lastSeen: make(map[string]time.Time)}
}

func (l *chatLimiter) Allow(botID string, chatID int64) bool {
	key := fmt.Sprintf("%s:%d", botID, chatID)
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.lastSeen[key]; ok && now.Sub(last) < l.interval {
		return false
	}
	if len(l.lastSeen) >= limiterSweepAt {
		for k, t := range l.lastSeen {
			if now.Sub(t) >= l.interval {
				delete(l.lastSeen, k)
			}
		}
	}
	l.lastSeen[key] = now
	return true
}
