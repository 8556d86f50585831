// Package bootstrap brings up the shared infrastructure: logging, the
// database pool, schema migrations and optional seed data.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/database"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/store"
)

// Options control the bootstrap pipeline. Nil hooks pick the production
// implementations.
type Options struct {
	Config  *config.Config
	Seeders []Seeder

	LoggerInit func(*config.Config) error
	Connect    func(config.DatabaseConfig) (*sqlx.DB, error)
	Migrate    func(config.DatabaseConfig) error
	NewStore   func(*sqlx.DB) store.Store
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	DB    *sqlx.DB
	Store store.Store
}

// Run initializes the logger, connects to the database, applies migrations
// and runs the seeders in order.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.Init
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	connect := opts.Connect
	if connect == nil {
		connect = database.Connect
	}
	db, err := connect(opts.Config.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = database.RunMigrations
	}
	if err := migrate(opts.Config.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	newStore := opts.NewStore
	if newStore == nil {
		newStore = func(db *sqlx.DB) store.Store { return store.NewPostgres(db) }
	}
	st := newStore(db)

	for i, s := range opts.Seeders {
		if err := s.Seed(ctx, st); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap: seeder %d failed: %w", i, err)
		}
	}
	return &Result{DB: db, Store: st}, nil
}
