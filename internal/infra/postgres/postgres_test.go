package postgres

import (
	"testing"
	"time"

	"github.com/sifan077/LinkVault/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnString(t *testing.T) {
	assert.Equal(t, "postgres://linkvault@localhost:5432/links?sslmode=disable",
		ConnString(config.PostgresConfig{User: "linkvault", Database: "links"}))

	assert.Equal(t, "postgres://app:secret@db:6543/links?sslmode=require",
		ConnString(config.PostgresConfig{
			Host: "db", Port: 6543, User: "app", Password: "secret", Database: "links", SSLMode: "require",
		}))
}

func TestConnString_EscapesAndIPv6(t *testing.T) {
	assert.Equal(t, "postgres://app:p%40ss@[::1]:5432/links?sslmode=disable",
		ConnString(config.PostgresConfig{Host: "::1", User: "app", Password: "p@ss", Database: "links"}))
	assert.Equal(t, "postgres://localhost:5432/links?sslmode=disable",
		ConnString(config.PostgresConfig{Database: "links"}))
}

func TestPoolConfig(t *testing.T) {
	cfg, err := PoolConfig(config.PostgresConfig{
		User:              "linkvault",
		Database:          "links",
		MaxConns:          8,
		MinConns:          20,
		MaxConnLifetime:   "30m",
		MaxConnIdleTime:   "bogus",
		HealthCheckPeriod: "15s",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 8, cfg.MaxConns)
	assert.EqualValues(t, 8, cfg.MinConns, "min is clamped to max")
	assert.Equal(t, 30*time.Minute, cfg.MaxConnLifetime)
	assert.Equal(t, 30*time.Minute, cfg.MaxConnIdleTime, "pgx default kept")
	assert.Equal(t, 15*time.Second, cfg.HealthCheckPeriod)
	assert.Equal(t, "linkvault", cfg.ConnConfig.RuntimeParams["application_name"])
	assert.Equal(t, "links", cfg.ConnConfig.Database)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, time.Hour, parseDuration("1h", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
}
