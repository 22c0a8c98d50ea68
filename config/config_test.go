package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("PG_HOST", "db.internal")
	t.Setenv("LINKS_VALIDITY", "10m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, "123:abc", cfg.Provider.Telegram.BotToken)
	assert.Equal(t, 3, cfg.Provider.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Provider.BaseDelay)
	assert.Equal(t, 10*time.Minute, cfg.Links.Validity)
	assert.Equal(t, 1, cfg.Links.UsageBudget)
	assert.Equal(t, 60*time.Second, cfg.Reaper.Interval)
	assert.Equal(t, 720*time.Hour, cfg.Reaper.Retention)
	assert.Equal(t, 6*time.Hour, cfg.Reaper.RetryMaxDelay)
	assert.Equal(t, 7, cfg.Stats.ActiveDays)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := `
storage:
  driver: memory
provider:
  kind: memory
reaper:
  interval: 30s
  concurrency: 8
  lock: false
redis:
  enabled: false
nats:
  enabled: false
redemption:
  consumer: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "memory", cfg.Provider.Kind)
	assert.Equal(t, 30*time.Second, cfg.Reaper.Interval)
	assert.Equal(t, 8, cfg.Reaper.Concurrency)
	assert.False(t, cfg.Reaper.Lock)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Storage:  StorageConfig{Driver: "memory"},
			Provider: ProviderConfig{Kind: "memory", MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second, AttemptTimeout: time.Second},
			Links:    LinksConfig{Validity: time.Minute, UsageBudget: 1},
			Reaper:   ReaperConfig{Interval: time.Minute, Concurrency: 1, BatchSize: 10},
			Stats:    StatsConfig{ActiveDays: 7},
		}
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())

	tests := map[string]func(c *Config){
		"unknown driver":      func(c *Config) { c.Storage.Driver = "sqlite" },
		"telegram no token":   func(c *Config) { c.Provider.Kind = "telegram" },
		"zero attempts":       func(c *Config) { c.Provider.MaxAttempts = 0 },
		"zero validity":       func(c *Config) { c.Links.Validity = 0 },
		"zero budget":         func(c *Config) { c.Links.UsageBudget = 0 },
		"zero concurrency":    func(c *Config) { c.Reaper.Concurrency = 0 },
		"negative retention":  func(c *Config) { c.Reaper.Retention = -time.Hour },
		"lock without redis":  func(c *Config) { c.Reaper.Lock = true },
		"consumer without js": func(c *Config) { c.Redemption.Consumer = true },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
