package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ServerConfig describes the HTTP listener that accepts webhook deliveries and admin calls.
type ServerConfig struct {
	Listen string `yaml:"listen" envconfig:"SERVER_LISTEN"`
	Port   int    `yaml:"port" envconfig:"SERVER_PORT"`
	// PublicURL is the externally reachable base used when registering webhooks.
	PublicURL string `yaml:"public_url" envconfig:"BASE_URL"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Listen, s.Port)
}

// TelegramConfig holds settings for the outbound Bot API client. No value here
// is ever taken from proxy environment variables.
type TelegramConfig struct {
	APIURL           string `yaml:"api_url" envconfig:"TELEGRAM_API_URL"`
	ProxyURL         string `yaml:"proxy_url" envconfig:"TELEGRAM_PROXY_URL"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms" envconfig:"TELEGRAM_REQUEST_TIMEOUT_MS"`
	RetryAttempts    int    `yaml:"retry_attempts" envconfig:"TELEGRAM_RETRY_ATTEMPTS"`
}

// RequestTimeout returns the per-request budget for Bot API calls.
func (t TelegramConfig) RequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeoutMS) * time.Millisecond
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" envconfig:"DB_HOST"`
	Port           string `yaml:"port" envconfig:"DB_PORT"`
	User           string `yaml:"user" envconfig:"DB_USER"`
	Password       string `yaml:"password" envconfig:"DB_PASSWORD"`
	Name           string `yaml:"name" envconfig:"DB_NAME"`
	SSLMode        string `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConnections int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
	MigrationsDir  string `yaml:"migrations_dir" envconfig:"DB_MIGRATIONS_DIR"`
}

// DSN returns the lib/pq keyword form of the connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// URL returns the postgres:// form of the connection string used by migrate.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

// RedisConfig enables the distributed turn lock. An empty URL keeps locking in-process.
type RedisConfig struct {
	URL       string `yaml:"url" envconfig:"REDIS_URL"`
	LockTTLMS int    `yaml:"lock_ttl_ms" envconfig:"REDIS_LOCK_TTL_MS"`
}

// EngineConfig controls turn execution.
type EngineConfig struct {
	Workers       int  `yaml:"workers" envconfig:"ENGINE_WORKERS"`
	QueueSize     int  `yaml:"queue_size" envconfig:"ENGINE_QUEUE_SIZE"`
	TurnTimeoutMS int  `yaml:"turn_timeout_ms" envconfig:"ENGINE_TURN_TIMEOUT_MS"`
	AuditOutbound bool `yaml:"audit_outbound" envconfig:"ENGINE_AUDIT_OUTBOUND"`
}

// TurnTimeout returns the wall-clock budget of a single turn.
func (e EngineConfig) TurnTimeout() time.Duration {
	return time.Duration(e.TurnTimeoutMS) * time.Millisecond
}

// CacheConfig sizes the bot and flow lookup cache. Capacity 0 disables caching.
type CacheConfig struct {
	Capacity   int `yaml:"capacity" envconfig:"CACHE_CAPACITY"`
	TTLSeconds int `yaml:"ttl_seconds" envconfig:"CACHE_TTL_SECONDS"`
}

// SchedulerConfig drives periodic maintenance jobs.
type SchedulerConfig struct {
	WebhookSyncIntervalSeconds int `yaml:"webhook_sync_interval_seconds" envconfig:"WEBHOOK_SYNC_INTERVAL_SECONDS"`
}

// AdminConfig protects the administrative API. An empty secret leaves it open.
type AdminConfig struct {
	JWTSecret string `yaml:"jwt_secret" envconfig:"ADMIN_JWT_SECRET"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format      string `yaml:"format" envconfig:"LOG_FORMAT"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	File        string `yaml:"file"`
	// Profile indicates environment profile such as "dev" or "prod".
	Profile string `yaml:"profile" envconfig:"LOG_PROFILE"`
}

// RateLimitConfig throttles webhook deliveries per chat.
type RateLimitConfig struct {
	IntervalMS int `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
}

// Config aggregates the whole service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Engine    EngineConfig    `yaml:"engine"`
	Cache     CacheConfig     `yaml:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	// SeedFile optionally points to a YAML document with bots and flows to preload.
	SeedFile string `yaml:"seed_file" envconfig:"SEED_FILE"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the configuration and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	cfg.Server.PublicURL = strings.TrimRight(strings.TrimSpace(cfg.Server.PublicURL), "/")
	if cfg.Server.PublicURL != "" {
		if u, err := url.Parse(cfg.Server.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("server.public_url must be an absolute URL, got %q", cfg.Server.PublicURL)
		}
	}

	cfg.Telegram.APIURL = strings.TrimRight(strings.TrimSpace(cfg.Telegram.APIURL), "/")
	if cfg.Telegram.APIURL == "" {
		cfg.Telegram.APIURL = "https://api.telegram.org"
	}
	if p := strings.TrimSpace(cfg.Telegram.ProxyURL); p != "" {
		if _, err := url.Parse(p); err != nil {
			return fmt.Errorf("invalid telegram.proxy_url: %w", err)
		}
		cfg.Telegram.ProxyURL = p
	}
	if cfg.Telegram.RequestTimeoutMS <= 0 {
		cfg.Telegram.RequestTimeoutMS = 10000
	}
	if cfg.Telegram.RetryAttempts < 0 {
		return fmt.Errorf("telegram.retry_attempts must be >= 0")
	}

	if cfg.Database.Port == "" {
		cfg.Database.Port = "5432"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConnections <= 0 {
		cfg.Database.MaxConnections = 10
	}
	if cfg.Database.MigrationsDir == "" {
		cfg.Database.MigrationsDir = "migrations"
	}

	if cfg.Redis.LockTTLMS <= 0 {
		cfg.Redis.LockTTLMS = 35000
	}

	if cfg.Engine.Workers <= 0 {
		cfg.Engine.Workers = 8
	}
	if cfg.Engine.QueueSize <= 0 {
		cfg.Engine.QueueSize = 512
	}
	if cfg.Engine.TurnTimeoutMS <= 0 {
		cfg.Engine.TurnTimeoutMS = 30000
	}

	if cfg.Cache.Capacity < 0 {
		return fmt.Errorf("cache.capacity must be >= 0")
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 60
	}

	if cfg.Scheduler.WebhookSyncIntervalSeconds < 0 {
		return fmt.Errorf("scheduler.webhook_sync_interval_seconds must be >= 0")
	}
	if cfg.RateLimit.IntervalMS < 0 {
		return fmt.Errorf("rate_limit.interval_ms must be >= 0")
	}
	return nil
}
