package tahan

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the environment variable prefix read by LoadConfig.
const EnvPrefix = "TAHAN"

// Config is the file and environment form of the client settings.
type Config struct {
	Timeout           time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	RetryAttempts     int           `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay" envconfig:"RETRY_BASE_DELAY"`
	CacheEnabled      bool          `yaml:"cache_enabled" envconfig:"CACHE_ENABLED"`
	CacheMaxAge       time.Duration `yaml:"cache_max_age" envconfig:"CACHE_MAX_AGE"`
	CacheCapacity     int           `yaml:"cache_capacity" envconfig:"CACHE_CAPACITY"`
	TokenExpiryBuffer time.Duration `yaml:"token_expiry_buffer" envconfig:"TOKEN_EXPIRY_BUFFER"`
	LogLevel          string        `yaml:"log_level" envconfig:"LOG_LEVEL"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           DefaultTimeout,
		RetryAttempts:     DefaultRetryAttempts,
		RetryBaseDelay:    DefaultRetryBaseDelay,
		CacheEnabled:      true,
		CacheMaxAge:       DefaultCacheMaxAge,
		TokenExpiryBuffer: DefaultTokenExpiryBuffer,
		LogLevel:          "info",
	}
}

// LoadConfig reads configuration from environment variables named
// <prefix>_<FIELD> on top of the defaults. An empty prefix uses EnvPrefix.
func LoadConfig(prefix string) (Config, error) {
	if prefix == "" {
		prefix = EnvPrefix
	}
	cfg := DefaultConfig()
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML file over the defaults, then applies the
// TAHAN_* environment variables on top.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config with prefix %s: %w", EnvPrefix, err)
	}
	return cfg, nil
}

// Options converts cfg into client options.
func (cfg Config) Options() []Option {
	return []Option{
		WithTimeout(cfg.Timeout),
		WithRetryAttempts(cfg.RetryAttempts),
		WithRetryBaseDelay(cfg.RetryBaseDelay),
		WithCache(cfg.CacheEnabled),
		WithCacheMaxAge(cfg.CacheMaxAge),
		WithCacheCapacity(cfg.CacheCapacity),
	}
}

// TokenManagerConfig returns the token settings from cfg.
func (cfg Config) TokenManagerConfig() TokenManagerConfig {
	return TokenManagerConfig{ExpiryBuffer: cfg.TokenExpiryBuffer}
}

// Logger builds a zerolog logger writing to w at the configured level. An
// unknown level falls back to info.
func (cfg Config) Logger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
