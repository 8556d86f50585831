package telegram

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/netutil"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultTLSHandshake      = 5 * time.Second
	defaultIdleConnTimeout   = 30 * time.Second
	defaultKeepAliveInterval = 30 * time.Second
	defaultRetryAttempts     = 2
	defaultRetryBackoff      = 500 * time.Millisecond
)

// BuildHTTPClient returns the HTTP client shared by every bot. The proxy is
// taken from cfg only; proxy environment variables are never consulted.
func BuildHTTPClient(cfg config.TelegramConfig) (*http.Client, error) {
	proxy, err := proxyFunc(cfg.ProxyURL)
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		Proxy:                 proxy,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAliveInterval}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ResponseHeaderTimeout: cfg.RequestTimeout(),
		ExpectContinueTimeout: 1 * time.Second,
	}

	attempts := cfg.RetryAttempts
	if attempts == 0 {
		attempts = defaultRetryAttempts
	}
	retry := &retryTransport{
		base:       transport,
		maxRetries: attempts,
		backoff:    defaultRetryBackoff,
	}

	return &http.Client{
		Timeout:   cfg.RequestTimeout() * time.Duration(attempts+1),
		Transport: retry,
	}, nil
}

// proxyFunc returns nil (direct connections) for an empty raw URL.
func proxyFunc(raw string) (func(*http.Request) (*url.URL, error), error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("telegram: invalid proxy url %q", raw)
	}
	return http.ProxyURL(u), nil
}

// readOnlyMethods may also be repeated after a timeout: resending them has no
// visible effect.
var readOnlyMethods = map[string]bool{
	"getMe":          true,
	"getWebhookInfo": true,
	"getMyCommands":  true,
}

// retryTransport repeats a Bot API call after transient network errors. A
// method with side effects is only repeated when the request never reached
// the provider; HTTP error statuses are returned as-is.
type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	ctx := req.Context()

	method := path.Base(req.URL.Path)
	resp, err := base.RoundTrip(req)
	for attempt := 1; err != nil && attempt <= t.maxRetries && retryable(method, err); attempt++ {
		next, rerr := rewind(req)
		if rerr != nil {
			return nil, err
		}
		logger.Debug(ctx, logger.CompTelegram, "api.retry",
			slog.String("method", method),
			slog.Int("attempt", attempt),
			slog.String("err_kind", netutil.Classify(err)),
		)
		if delay := t.backoff * time.Duration(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		resp, err = base.RoundTrip(next)
	}
	return resp, err
}

func retryable(method string, err error) bool {
	if netutil.ShouldRetry(err) {
		return true
	}
	return readOnlyMethods[method] && netutil.IsTimeout(err)
}

// rewind clones req with a fresh body. Requests whose body cannot be replayed fail.
func rewind(req *http.Request) (*http.Request, error) {
	next := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return next, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("telegram: request body is not replayable")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	next.Body = body
	return next, nil
}
