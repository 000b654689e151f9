package tahan

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, 5*time.Minute, cfg.CacheMaxAge)
	assert.Equal(t, 5*time.Minute, cfg.TokenExpiryBuffer)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("TAHAN_TIMEOUT", "3s")
	t.Setenv("TAHAN_RETRY_ATTEMPTS", "5")
	t.Setenv("TAHAN_CACHE_ENABLED", "false")
	t.Setenv("TAHAN_TOKEN_EXPIRY_BUFFER", "1m")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.False(t, cfg.CacheEnabled)
	assert.Equal(t, time.Minute, cfg.TokenManagerConfig().ExpiryBuffer)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay, "unset variables keep defaults")
}

func TestLoadConfigCustomPrefix(t *testing.T) {
	t.Setenv("MYAPP_RETRY_ATTEMPTS", "7")

	cfg, err := LoadConfig("MYAPP")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RetryAttempts)
}

func TestLoadConfigInvalidEnv(t *testing.T) {
	t.Setenv("TAHAN_RETRY_ATTEMPTS", "many")

	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tahan.yaml")
	content := []byte("timeout: 2s\nretry_attempts: 4\ncache_max_age: 30s\ncache_capacity: 100\nlog_level: debug\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("TAHAN_RETRY_ATTEMPTS", "6")

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, 6, cfg.RetryAttempts, "environment overrides the file")
	assert.Equal(t, 30*time.Second, cfg.CacheMaxAge)
	assert.Equal(t, 100, cfg.CacheCapacity)
	assert.True(t, cfg.CacheEnabled, "fields missing from the file keep defaults")
	assert.Equal(t, "debug", cfg.LogLevel)

	client := New(cfg.Options()...)
	require.True(t, client.IsValid())
	assert.IsType(t, &LRUCache{}, client.cache)
}

func TestLoadConfigFileErrors(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("timeout: [not, a, duration]\n"), 0o600))
	_, err = LoadConfigFile(path)
	assert.Error(t, err)
}

func TestConfigLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.LogLevel = "warn"
	logger := cfg.Logger(&buf)

	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	cfg.LogLevel = "nonsense"
	assert.Equal(t, zerolog.InfoLevel, cfg.Logger(&buf).GetLevel())
}
