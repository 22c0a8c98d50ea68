package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// HTTP API
	Server ServerConfig `mapstructure:"server"`

	// Storage backend selection
	Storage StorageConfig `mapstructure:"storage"`

	// PostgreSQL
	Postgres PostgresConfig `mapstructure:"postgres"`

	// Redis
	Redis RedisConfig `mapstructure:"redis"`

	// NATS
	NATS NATSConfig `mapstructure:"nats"`

	// Prometheus
	Prometheus PrometheusConfig `mapstructure:"prometheus"`

	// Upstream invite link provider
	Provider ProviderConfig `mapstructure:"provider"`

	// Defaults for newly registered resources
	Links LinksConfig `mapstructure:"links"`

	// Expiry reaper
	Reaper ReaperConfig `mapstructure:"reaper"`

	// Redemption recording
	Redemption RedemptionConfig `mapstructure:"redemption"`

	Stats StatsConfig `mapstructure:"stats"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// IssueRateLimit is the number of issue requests a client may make per minute.
	IssueRateLimit int `mapstructure:"issue_rate_limit"`
}

type StorageConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `mapstructure:"driver"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NATSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type ProviderConfig struct {
	// Kind is "telegram" or "memory".
	Kind           string         `mapstructure:"kind"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
	MaxAttempts    int            `mapstructure:"max_attempts"`
	BaseDelay      time.Duration  `mapstructure:"base_delay"`
	MaxDelay       time.Duration  `mapstructure:"max_delay"`
	AttemptTimeout time.Duration  `mapstructure:"attempt_timeout"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

type LinksConfig struct {
	Validity    time.Duration `mapstructure:"validity"`
	UsageBudget int           `mapstructure:"usage_budget"`
}

type ReaperConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
	BatchSize   int           `mapstructure:"batch_size"`
	// RetryMaxDelay caps the backoff for links whose revocation keeps failing.
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay"`
	// Retention of revoked links before purge; zero keeps them forever.
	Retention time.Duration `mapstructure:"retention"`
	// Lock elects one sweeping replica through Redis.
	Lock    bool          `mapstructure:"lock"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type RedemptionConfig struct {
	RevokeOnExhaust bool `mapstructure:"revoke_on_exhaust"`
	TokenFilter     bool `mapstructure:"token_filter"`
	// Consumer pulls redemption events from JetStream.
	Consumer bool `mapstructure:"consumer"`
}

type StatsConfig struct {
	ActiveDays int `mapstructure:"active_days"`
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Allow environment variables to override YAML entries.
	v.SetEnvPrefix("")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Preserve legacy env variable names.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.issue_rate_limit", 30)

	v.SetDefault("storage.driver", "postgres")

	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("nats.enabled", true)
	v.SetDefault("prometheus.enabled", true)
	v.SetDefault("prometheus.port", 9090)

	v.SetDefault("provider.kind", "telegram")
	v.SetDefault("provider.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("provider.max_attempts", 3)
	v.SetDefault("provider.base_delay", "200ms")
	v.SetDefault("provider.max_delay", "5s")
	v.SetDefault("provider.attempt_timeout", "10s")

	v.SetDefault("links.validity", "5m")
	v.SetDefault("links.usage_budget", 1)

	v.SetDefault("reaper.interval", "60s")
	v.SetDefault("reaper.concurrency", 4)
	v.SetDefault("reaper.batch_size", 500)
	v.SetDefault("reaper.retry_max_delay", "6h")
	v.SetDefault("reaper.retention", "720h")
	v.SetDefault("reaper.lock", true)
	v.SetDefault("reaper.lock_ttl", "5m")

	v.SetDefault("redemption.revoke_on_exhaust", true)
	v.SetDefault("redemption.token_filter", false)
	v.SetDefault("redemption.consumer", true)

	v.SetDefault("stats.active_days", 7)
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver))
	}

	switch c.Provider.Kind {
	case "telegram":
		if c.Provider.Telegram.BotToken == "" {
			errs = append(errs, errors.New("provider.telegram.bot_token is required"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("provider.kind must be telegram or memory, got %q", c.Provider.Kind))
	}

	if c.Provider.MaxAttempts <= 0 {
		errs = append(errs, errors.New("provider.max_attempts must be positive"))
	}
	if c.Provider.BaseDelay <= 0 || c.Provider.MaxDelay <= 0 || c.Provider.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("provider delays and timeouts must be positive"))
	}
	if c.Links.Validity <= 0 {
		errs = append(errs, errors.New("links.validity must be positive"))
	}
	if c.Links.UsageBudget <= 0 {
		errs = append(errs, errors.New("links.usage_budget must be positive"))
	}
	if c.Reaper.Interval <= 0 || c.Reaper.Concurrency <= 0 || c.Reaper.BatchSize <= 0 {
		errs = append(errs, errors.New("reaper interval, concurrency and batch_size must be positive"))
	}
	if c.Reaper.Retention < 0 {
		errs = append(errs, errors.New("reaper.retention must not be negative"))
	}
	if c.Reaper.Lock && !c.Redis.Enabled {
		errs = append(errs, errors.New("reaper.lock requires redis.enabled"))
	}
	if c.Redemption.Consumer && !c.NATS.Enabled {
		errs = append(errs, errors.New("redemption.consumer requires nats.enabled"))
	}
	if c.Stats.ActiveDays <= 0 {
		errs = append(errs, errors.New("stats.active_days must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func bindEnvVars(v *viper.Viper) {
	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")
	v.BindEnv("nats.monitor_port", "NATS_MONITOR_PORT")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")

	// Telegram
	v.BindEnv("provider.telegram.bot_token", "TELEGRAM_BOT_TOKEN", "BOT_TOKEN")
}
