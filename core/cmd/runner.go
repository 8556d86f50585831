// Package cmd implements the flowbot command line: the long-running server and
// a few one-shot maintenance commands.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/m3rciful/flowbot/core/bootstrap"
	"github.com/m3rciful/flowbot/core/buildinfo"
	"github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/httpapi"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/store"
	"github.com/m3rciful/flowbot/core/telegram"
)

const usage = `usage: flowbot <command> [flags]

commands:
  serve                          run the webhook and admin server (default)
  webhook <bot_id> [base_url]    register the webhook of one bot
  token <subject> [-ttl 24h]     mint an admin API token
  version                        print build information
`

// Options describe where configuration comes from and where output goes.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string
	Args              []string
	Stdout            io.Writer
}

// Run dispatches the subcommand named by the first argument.
func Run(opts Options) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("ignoring .env: %v", err)
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	sub, rest := "serve", opts.Args
	if len(rest) > 0 {
		sub, rest = rest[0], rest[1:]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch sub {
	case "serve":
		cfg, err := loadConfig(opts)
		if err != nil {
			return err
		}
		return serve(ctx, cfg)
	case "webhook":
		return runWebhook(ctx, opts, rest)
	case "token":
		return runToken(opts, rest)
	case "version":
		_, err := fmt.Fprintf(opts.Stdout, "flowbot %s (%s) %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
		return err
	case "help", "-h", "--help":
		_, err := io.WriteString(opts.Stdout, usage)
		return err
	default:
		return fmt.Errorf("cmd: unknown command %q\n%s", sub, usage)
	}
}

func loadConfig(opts Options) (*config.Config, error) {
	env := opts.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	cfgPath := os.Getenv(env)
	if cfgPath == "" {
		cfgPath = opts.DefaultConfigPath
	}
	if cfgPath == "" {
		return nil, fmt.Errorf("cmd: config path not provided via %s or DefaultConfigPath", env)
	}

	log.Printf("loading config: %s", cfgPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("cmd: failed to load config: %w", err)
	}
	return cfg, nil
}

// runWebhook registers the delivery URL of one bot outside the scheduler.
func runWebhook(ctx context.Context, opts Options, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("cmd: usage: flowbot webhook <bot_id> [base_url]")
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	base := cfg.Server.PublicURL
	if len(args) == 2 {
		base = args[1]
	}
	if base == "" {
		return fmt.Errorf("cmd: no base url given and server.public_url is empty")
	}

	res, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer res.DB.Close()
	defer logger.Shutdown()

	return registerWebhook(ctx, res.Store, cfg.Telegram, args[0], base, opts.Stdout)
}

func registerWebhook(ctx context.Context, st store.Bots, tc config.TelegramConfig, botID, base string, out io.Writer) error {
	bot, err := st.GetBot(ctx, botID)
	if err != nil {
		return fmt.Errorf("cmd: load bot %s: %w", botID, err)
	}
	client, err := telegram.NewClient(tc)
	if err != nil {
		return err
	}
	url := telegram.WebhookURL(base, bot.ID)
	if err := client.SetWebhook(ctx, bot.Token, url); err != nil {
		return fmt.Errorf("cmd: set webhook: %w", err)
	}
	if err := st.SetWebhook(ctx, bot.ID, true, url); err != nil {
		return fmt.Errorf("cmd: store webhook: %w", err)
	}
	_, err = fmt.Fprintln(out, url)
	return err
}

func runToken(opts Options, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(opts.Stdout)
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if len(args) == 0 {
		return fmt.Errorf("cmd: usage: flowbot token <subject> [-ttl 24h]")
	}
	subject := args[0]
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	tok, err := httpapi.IssueToken(cfg.Admin.JWTSecret, subject, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(opts.Stdout, tok)
	return err
}
