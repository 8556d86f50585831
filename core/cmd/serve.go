package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/flowbot/core/bootstrap"
	"github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/engine"
	"github.com/m3rciful/flowbot/core/httpapi"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/personality"
	"github.com/m3rciful/flowbot/core/scheduler"
	"github.com/m3rciful/flowbot/core/store"
	"github.com/m3rciful/flowbot/core/telegram"
	"github.com/m3rciful/flowbot/core/worker"
)

const (
	httpGrace = 10 * time.Second
	poolGrace = 15 * time.Second
)

// serve wires every component and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config) error {
	startedAt := time.Now()

	var seeders []bootstrap.Seeder
	if cfg.SeedFile != "" {
		seeders = append(seeders, bootstrap.FileSeeder(cfg.SeedFile))
	}
	res, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg, Seeders: seeders})
	if err != nil {
		return err
	}
	defer func() {
		if err := logger.Shutdown(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()
	defer res.DB.Close()

	st := res.Store
	if cfg.Cache.Capacity > 0 {
		cached, err := store.NewCached(st, cfg.Cache.Capacity, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
		if err != nil {
			return err
		}
		defer cached.Close()
		st = cached
	}

	locker, closeLocker, err := buildLocker(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeLocker()

	tg, err := telegram.NewClient(cfg.Telegram)
	if err != nil {
		return fmt.Errorf("cmd: telegram client: %w", err)
	}

	eng := engine.New(st, tg, personality.NewRegistry(st), engine.Options{
		Locker:        locker,
		AuditOutbound: cfg.Engine.AuditOutbound,
	})

	pool := worker.New(worker.Options{
		QueueSize: cfg.Engine.QueueSize,
		Workers:   cfg.Engine.Workers,
		Timeout:   cfg.Engine.TurnTimeout(),
	})

	var sched gocron.Scheduler
	if every := cfg.Scheduler.WebhookSyncIntervalSeconds; every > 0 && cfg.Server.PublicURL != "" {
		job := scheduler.NewWebhookSync(st, tg, cfg.Server.PublicURL, eng.Commands().List(true))
		if sched, err = scheduler.Start(ctx, job, time.Duration(every)*time.Second); err != nil {
			return fmt.Errorf("cmd: scheduler: %w", err)
		}
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Store:        st,
		Engine:       eng,
		Pool:         pool,
		Provider:     tg,
		PublicURL:    cfg.Server.PublicURL,
		JWTSecret:    cfg.Admin.JWTSecret,
		RateInterval: time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond,
	})
	srv := httpapi.NewServer(cfg.Server.Addr(), router)

	logger.Info(ctx, logger.CompApp, "app.ready",
		slog.String("listen", cfg.Server.Addr()),
		slog.Bool("scheduler", sched != nil),
		slog.Bool("redis_lock", cfg.Redis.URL != ""),
		slog.Duration("startup", logger.RoundMS(time.Since(startedAt))),
	)

	runErr := srv.Run(ctx, httpGrace)

	logger.Info(context.Background(), logger.CompApp, "app.shutdown")
	if sched != nil {
		if err := sched.Shutdown(); err != nil {
			logger.Warn(context.Background(), logger.CompApp, "scheduler.shutdown_failed", slog.String("err", logger.Err(err)))
		}
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), poolGrace)
	defer cancel()
	if err := pool.Close(drainCtx); err != nil {
		logger.Warn(context.Background(), logger.CompApp, "pool.drain_incomplete", slog.String("err", logger.Err(err)))
	}
	return runErr
}

// buildLocker returns the in-process turn lock, chained with a Redis lock when
// a Redis URL is configured so that several replicas serialize each user.
func buildLocker(ctx context.Context, rc config.RedisConfig) (engine.Locker, func(), error) {
	local := engine.NewLocalLocker()
	if rc.URL == "" {
		return local, func() {}, nil
	}
	opt, err := redis.ParseURL(rc.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("cmd: redis url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("cmd: redis ping: %w", err)
	}
	ttl := time.Duration(rc.LockTTLMS) * time.Millisecond
	return engine.Chain(local, engine.NewRedisLocker(client, ttl)), func() { _ = client.Close() }, nil
}
