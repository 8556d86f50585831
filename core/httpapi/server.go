// Package httpapi exposes the webhook endpoint that feeds the engine and the
// administrative API for bots, webhooks and flows.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/m3rciful/flowbot/core/domain"
	"github.com/m3rciful/flowbot/core/engine"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/store"
	"github.com/m3rciful/flowbot/core/worker"
)

// TurnHandler runs one conversation turn.
type TurnHandler interface {
	Handle(ctx context.Context, bot *domain.Bot, ev engine.Event) (engine.Result, error)
}

// Submitter queues work without waiting for it.
type Submitter interface {
	Submit(ctx context.Context, t worker.Task) error
}

// Provider is the part of the messaging client the admin API needs.
type Provider interface {
	VerifyToken(ctx context.Context, token string) (string, error)
	SetWebhook(ctx context.Context, token, url string) error
	RemoveWebhook(ctx context.Context, token string) error
}

// Deps are the collaborators of the router.
type Deps struct {
	Store    store.Store
	Engine   TurnHandler
	Pool     Submitter
	Provider Provider
	// PublicURL is the externally reachable base used for webhook registration.
	PublicURL string
	// JWTSecret protects the admin routes. Empty leaves them open.
	JWTSecret string
	// RateInterval is the minimum gap between deliveries of one chat. Zero disables it.
	RateInterval time.Duration
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(), recoverer())

	h := &handlers{deps: d}
	if d.RateInterval > 0 {
		h.limiter = newChatLimiter(d.RateInterval)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/api")
	api.POST("/webhook/:bot_id", h.webhook)

	admin := api.Group("/bots")
	if d.JWTSecret != "" {
		admin.Use(authMiddleware(d.JWTSecret))
	} else {
		logger.Warn(context.Background(), logger.CompHTTP, "admin.auth_disabled")
	}
	admin.POST("", h.createBot)
	admin.GET("", h.listBots)
	admin.GET("/:bot_id", h.getBot)
	admin.POST("/:bot_id/webhook", h.setWebhook)
	admin.DELETE("/:bot_id/webhook", h.deleteWebhook)
	admin.GET("/:bot_id/stats", h.stats)
	admin.POST("/:bot_id/flows", h.createFlow)
	admin.GET("/:bot_id/flows", h.listFlows)
	return r
}

// Server is the HTTP listener with graceful shutdown.
type Server struct {
	srv *http.Server
}

// NewServer wraps handler in an http.Server listening on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Run serves until ctx is done, then shuts down within the grace period.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, logger.CompHTTP, "server.start", slog.String("listen", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info(context.Background(), logger.CompHTTP, "server.stop")
	return nil
}
