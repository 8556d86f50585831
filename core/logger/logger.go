package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/m3rciful/flowbot/core/buildinfo"
	"github.com/m3rciful/flowbot/core/config"
)

// Component names used across the service. Keeping them here keeps the
// component column of the logs greppable.
const (
	CompApp       = "app"
	CompHTTP      = "http"
	CompEngine    = "engine"
	CompFlow      = "flow"
	CompStore     = "store"
	CompDB        = "db"
	CompMigrate   = "db.migrate"
	CompSeed      = "db.seed"
	CompTelegram  = "tg"
	CompSender    = "tg.sender"
	CompWorker    = "worker"
	CompScheduler = "scheduler"
)

var (
	initOnce sync.Once
	closeMu  sync.Mutex
	closed   bool

	sink    *lineWriter
	closers []io.Closer

	levelVar slog.LevelVar

	debugSampler = newSampler(1, 50)
	traceAll     bool

	// L is the root logger. It stays nil until Init runs, in which case every
	// helper in this package turns into a no-op.
	L *slog.Logger
)

// Init configures the global structured logger. Only the first call has effect.
func Init(cfg *config.Config) error {
	var initErr error
	initOnce.Do(func() {
		var lc config.LoggingConfig
		if cfg != nil {
			lc = cfg.Logging
		}
		levelVar.Set(parseLevel(lc.Level))
		debugSampler.Set(parseSample(lc.DebugSample))
		traceAll = truthy(os.Getenv("LOG_TRACE"))

		outputs, files, err := openOutputs(lc)
		if err != nil {
			initErr = err
			return
		}
		closers = files
		sink = newLineWriter(outputs, 64*1024)

		L = slog.New(newHandler(handlerOptions{
			level:  &levelVar,
			out:    sink,
			format: pickFormat(lc),
			order:  pickOrder(lc.KeysOrder),
		}))
		slog.SetDefault(L)

		Info(context.Background(), CompApp, "startup",
			slog.String("go_version", runtime.Version()),
			slog.String("version", buildinfo.Version),
			slog.String("build_commit", buildinfo.Commit),
			slog.String("build_time", buildinfo.Date),
			slog.String("cfg_profile", profile(lc)),
		)
	})
	return initErr
}

// Shutdown flushes buffered log output and closes file sinks.
func Shutdown() error {
	closeMu.Lock()
	defer closeMu.Unlock()
	if closed {
		return nil
	}
	closed = true

	var errs []error
	if sink != nil {
		errs = append(errs, sink.Flush(), sink.Close())
	}
	for _, c := range closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func pickFormat(lc config.LoggingConfig) logFormat {
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		return formatKV
	case "json":
		return formatJSON
	}
	if p := profile(lc); p == "dev" || p == "debug" {
		return formatKV
	}
	return formatJSON
}

func pickOrder(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "default" {
		return append([]string(nil), defaultKeyOrder...)
	}
	var order []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			order = append(order, p)
		}
	}
	if len(order) == 0 {
		return append([]string(nil), defaultKeyOrder...)
	}
	return order
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openOutputs(lc config.LoggingConfig) ([]io.Writer, []io.Closer, error) {
	writers := []io.Writer{os.Stdout}
	dir, file := strings.TrimSpace(lc.Dir), strings.TrimSpace(lc.File)
	if dir == "" || file == "" {
		return writers, nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("logger: create log dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, file)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: open log file %s: %w", path, err)
	}
	return append(writers, f), []io.Closer{f}, nil
}

func profile(lc config.LoggingConfig) string {
	if p := strings.TrimSpace(lc.Profile); p != "" {
		return strings.ToLower(p)
	}
	return "prod"
}

// Component returns a logger scoped to the component, or nil before Init.
func Component(name string) *slog.Logger {
	if L == nil {
		return nil
	}
	if name = strings.TrimSpace(name); name == "" {
		return L
	}
	return L.With("component", name)
}

// Log writes one event line for the component at the given level.
func Log(ctx context.Context, component string, level slog.Level, event string, attrs ...slog.Attr) {
	l := Component(component)
	if l == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	l.LogAttrs(ctx, level, "", attrs...)
}

// Debug logs a debug-level event for the given component.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Log(ctx, component, slog.LevelDebug, event, attrs...)
}

// Info logs an info-level event for the given component.
func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Log(ctx, component, slog.LevelInfo, event, attrs...)
}

// Warn logs a warn-level event for the given component.
func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Log(ctx, component, slog.LevelWarn, event, attrs...)
}

// Error logs an error-level event for the given component.
func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Log(ctx, component, slog.LevelError, event, attrs...)
}

func parseSample(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 1, 50
	}
	return parseRatio(spec)
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// ShouldSampleDebug reports whether a high-volume debug line should be written.
func ShouldSampleDebug() bool {
	return traceAll || debugSampler.Allow()
}
