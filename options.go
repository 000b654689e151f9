package tahan

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"
)

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the default per-attempt timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetryAttempts sets the total number of attempts, the first included
func WithRetryAttempts(n int) Option {
	return func(c *Client) {
		c.retryAttempts = n
	}
}

// WithRetryBaseDelay sets the delay before the second attempt
func WithRetryBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = d
	}
}

// WithJitterSource replaces the random source used for backoff jitter
func WithJitterSource(src JitterSource) Option {
	return func(c *Client) {
		c.jitter = src
	}
}

// WithCache turns response caching on or off
func WithCache(enabled bool) Option {
	return func(c *Client) {
		c.cacheEnabled = enabled
	}
}

// WithCacheMaxAge sets how long a cached response stays servable
func WithCacheMaxAge(d time.Duration) Option {
	return func(c *Client) {
		c.cacheMaxAge = d
	}
}

// WithCacheCapacity bounds the default cache to n entries with LRU eviction.
// Zero keeps the unbounded in-memory cache.
func WithCacheCapacity(n int) Option {
	return func(c *Client) {
		c.cacheCapacity = n
	}
}

// WithCustomCache sets a custom cache implementation and enables caching
func WithCustomCache(cache Cache) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheEnabled = cache != nil
	}
}

// WithCacheCondition sets a custom cache condition function
func WithCacheCondition(fn CacheCondition) Option {
	return func(c *Client) {
		c.cacheCondition = fn
	}
}

// WithTransport sets the component that performs the raw network call
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithHTTPClient sends requests through the given *http.Client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.transport = NewHTTPTransport(client)
	}
}

// WithAuthorizer sets the source of headers for RequiresAuth requests,
// usually a *TokenManager
func WithAuthorizer(a Authorizer) Option {
	return func(c *Client) {
		c.authorizer = a
	}
}

// WithClock sets the clock used for timeouts, backoff waits and the default
// cache
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithLogger sets the structured logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics enables Prometheus metrics collection
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithDeduplication shares one execution among concurrent identical
// cache-eligible requests
func WithDeduplication() Option {
	return func(c *Client) {
		c.dedup = newDeduplicator()
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		c.requestIDGen = gen
	}
}

// WithConfig applies every setting of cfg
func WithConfig(cfg Config) Option {
	return func(c *Client) {
		for _, opt := range cfg.Options() {
			opt(c)
		}
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateRetryConfig()...)
	errors = append(errors, c.validateCacheConfig()...)
	errors = append(errors, c.validateCollaborators()...)
	errors = append(errors, c.validateExtremeValues()...)

	if len(errors) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}

	return nil
}

func (c *Client) validateRetryConfig() []string {
	var errors []string

	if c.timeout <= 0 {
		errors = append(errors, "timeout must be positive")
	}
	if c.retryAttempts < 1 {
		errors = append(errors, "retryAttempts must be at least 1")
	}
	if c.retryBaseDelay < 0 {
		errors = append(errors, "retryBaseDelay must be non-negative")
	}

	return errors
}

func (c *Client) validateCacheConfig() []string {
	var errors []string

	if c.cacheEnabled && c.cacheMaxAge <= 0 {
		errors = append(errors, "cacheMaxAge must be positive when cache is enabled")
	}
	if c.cacheCapacity < 0 {
		errors = append(errors, "cacheCapacity must be non-negative")
	}
	if c.cacheCondition == nil {
		errors = append(errors, "cache condition cannot be nil")
	}

	return errors
}

func (c *Client) validateCollaborators() []string {
	var errors []string

	if c.transport == nil {
		errors = append(errors, "transport cannot be nil")
	}
	if c.clock == nil {
		errors = append(errors, "clock cannot be nil")
	}
	if c.requestIDGen == nil {
		errors = append(errors, "request ID generator cannot be nil")
	}

	return errors
}

func (c *Client) validateExtremeValues() []string {
	var errors []string

	if c.retryAttempts > 100 {
		errors = append(errors, "retryAttempts > 100 may cause excessive resource usage")
	}
	if c.retryBaseDelay > 10*time.Minute {
		errors = append(errors, "retryBaseDelay > 10m may cause very long delays")
	}
	if c.timeout > MaxTimeout {
		errors = append(errors, "timeout > 10m may cause requests to hang for too long")
	}

	return errors
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}
