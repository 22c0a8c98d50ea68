package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_ENCODING", "")
	cfg := ConfigFromEnv()
	assert.False(t, cfg.Development)
	assert.Equal(t, "warn", cfg.Level)
	assert.Empty(t, cfg.Encoding)

	t.Setenv("APP_ENV", "")
	cfg = ConfigFromEnv()
	assert.True(t, cfg.Development)
	assert.Equal(t, "console", cfg.Encoding)
}

func TestNew(t *testing.T) {
	l, err := New(Config{Level: "debug", Encoding: "json"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	_, err = New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestL_FallsBackWithoutInit(t *testing.T) {
	assert.NotNil(t, L())
}

func TestConfigFromEnv_Sampling(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_SAMPLING", "")
	assert.True(t, ConfigFromEnv().Sampling)

	t.Setenv("LOG_SAMPLING", "off")
	assert.False(t, ConfigFromEnv().Sampling)

	t.Setenv("APP_ENV", "development")
	t.Setenv("LOG_SAMPLING", "")
	assert.False(t, ConfigFromEnv().Sampling)
}

func TestComponent(t *testing.T) {
	_, err := Init(Config{Level: "info", Encoding: "json"})
	require.NoError(t, err)
	assert.Equal(t, "linkvault.reaper", Component("reaper").Name())
}
