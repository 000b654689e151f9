package tahan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"
)

// Client defaults.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = time.Second
	DefaultCacheMaxAge    = 5 * time.Minute

	// MaxTimeout bounds both the client timeout and Request.Timeout.
	MaxTimeout = 10 * time.Minute
)

// Client executes requests through a Transport with response caching,
// retries with exponential backoff, per-attempt timeouts and optional
// authorization. It is safe for concurrent use.
type Client struct {
	transport      Transport
	timeout        time.Duration
	retryAttempts  int
	retryBaseDelay time.Duration
	jitter         JitterSource
	retry          *RetryController
	cache          Cache
	cacheEnabled   bool
	cacheMaxAge    time.Duration
	cacheCapacity  int
	cacheCondition CacheCondition
	authorizer     Authorizer
	clock          clock.Clock
	logger         zerolog.Logger
	metrics        *MetricsCollector
	dedup          *deduplicator
	requestIDGen   func() string

	validationError error
}

// retryState is the per-Execute attempt bookkeeping.
type retryState struct {
	attempt int
	lastErr *ClientError
}

// attemptResult carries the transport outcome out of the attempt goroutine.
type attemptResult struct {
	resp *Response
	err  error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors. Execute
// refuses to run on an invalid configuration.
func New(options ...Option) *Client {
	client := &Client{
		transport:      NewHTTPTransport(nil),
		timeout:        DefaultTimeout,
		retryAttempts:  DefaultRetryAttempts,
		retryBaseDelay: DefaultRetryBaseDelay,
		cacheEnabled:   true,
		cacheMaxAge:    DefaultCacheMaxAge,
		cacheCondition: DefaultCacheCondition,
		clock:          clock.RealClock{},
		logger:         zerolog.Nop(),
		requestIDGen:   uuid.NewString,
	}

	for _, option := range options {
		option(client)
	}

	if client.cacheEnabled && client.cache == nil && client.clock != nil {
		if client.cacheCapacity > 0 {
			client.cache = NewLRUCacheWithClock(client.cacheCapacity, client.clock)
		} else {
			client.cache = NewInMemoryCacheWithClock(client.clock)
		}
	}
	client.retry = NewRetryController(client.retryAttempts, client.retryBaseDelay, client.jitter)

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get executes a cacheable GET for url.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Execute(ctx, Get(url))
}

// Execute performs req. A fresh cached response is returned without touching
// the network. Otherwise the request is attempted up to the configured number
// of times; the returned error is always a *ClientError describing the last
// failure. req is never modified.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := c.clock.Now()
	method := req.method()
	endpoint := endpointLabel(req.URL)
	requestID := c.requestIDGen()
	logger := c.logger.With().
		Str("request_id", requestID).
		Str("method", method).
		Str("url", req.URL).
		Logger()

	c.metrics.RecordRequestStart(method, endpoint)
	defer c.metrics.RecordRequestEnd(method, endpoint)

	resp, err := c.execute(ctx, req, requestID, &logger)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	} else if clientErr, ok := err.(*ClientError); ok {
		status = clientErr.StatusCode
	}
	c.metrics.RecordRequest(method, endpoint, status, c.clock.Since(start))
	if err != nil {
		c.metrics.RecordError(ErrorType(err), method, endpoint)
	}
	return resp, err
}

func (c *Client) execute(ctx context.Context, req *Request, requestID string, logger *zerolog.Logger) (*Response, error) {
	method := req.method()
	endpoint := endpointLabel(req.URL)

	cacheable := c.isCacheEligible(req)
	var key string
	if cacheable {
		key = CacheKey(req)
		if entry, ok := c.cache.Get(key, c.cacheMaxAge); ok {
			logger.Debug().Str("cache_key", key).Msg("cache hit")
			c.metrics.RecordCacheHit(method, endpoint)
			return c.createResponseFromCache(entry), nil
		}
		logger.Debug().Str("cache_key", key).Msg("cache miss")
		c.metrics.RecordCacheMiss(method, endpoint)
	}

	if cacheable && c.dedup != nil {
		resp, err, joined := c.dedup.do(ctx, dedupKey(key, req), func(ctx context.Context) (*Response, error) {
			return c.fetch(ctx, req, key, cacheable, requestID, logger)
		})
		if joined {
			logger.Debug().Str("cache_key", key).Msg("joined in-flight request")
			c.metrics.RecordDeduplicationHit(method, endpoint)
		}
		return resp, err
	}

	return c.fetch(ctx, req, key, cacheable, requestID, logger)
}

// fetch authorizes req, runs the attempt loop and stores a successful
// response when cacheable.
func (c *Client) fetch(ctx context.Context, req *Request, key string, cacheable bool, requestID string, logger *zerolog.Logger) (*Response, error) {
	start := c.clock.Now()
	send := req.clone()

	if req.RequiresAuth {
		headers, err := c.authorize(ctx)
		if err != nil {
			clientErr := c.authorizationError(err, requestID, req, start)
			if ctx.Err() != nil {
				clientErr.Type = ErrorTypeCanceled
				clientErr.Message = "request canceled"
				clientErr.Cause = ctx.Err()
			}
			logger.Warn().Err(err).Str("error_type", clientErr.Type).Msg("authorization failed")
			return nil, clientErr
		}
		for name, value := range headers {
			send = send.WithHeader(name, value)
		}
	}

	resp, err := c.doWithRetry(ctx, send, requestID, start, logger)
	if err != nil {
		return nil, err
	}

	if cacheable {
		c.cache.Set(key, c.createCacheEntry(resp))
		c.metrics.RecordCacheSize(c.cache.Len())
	}
	return resp, nil
}

func (c *Client) authorize(ctx context.Context) (map[string]string, error) {
	if c.authorizer == nil {
		return nil, NewClientError(ErrorTypeAuthentication, "no authorizer configured", nil)
	}
	return c.authorizer.AuthHeaders(ctx)
}

// authorizationError surfaces an authorizer failure. A *ClientError that
// already says ErrorTypeAuthentication is kept as is, on a copy carrying this
// request's context; anything else is wrapped once.
func (c *Client) authorizationError(err error, requestID string, req *Request, start time.Time) *ClientError {
	var authErr *ClientError
	if !errors.As(err, &authErr) || authErr.Type != ErrorTypeAuthentication {
		return c.createClientError(ErrorTypeAuthentication, "authorization failed", err, requestID, req, 0, c.clock.Since(start))
	}

	// The same error value may be shared by every waiter of one refresh.
	out := *authErr
	out.RequestID = requestID
	out.Method = req.method()
	out.URL = req.URL
	out.MaxAttempts = c.retry.MaxAttempts()
	out.Duration = c.clock.Since(start)
	if out.Timestamp.IsZero() {
		out.Timestamp = c.clock.Now()
	}
	return &out
}

func (c *Client) doWithRetry(ctx context.Context, req *Request, requestID string, start time.Time, logger *zerolog.Logger) (*Response, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	idempotent := req.IsIdempotent()
	method := req.method()
	endpoint := endpointLabel(req.URL)

	state := retryState{attempt: 1}
	for {
		resp, err := c.sendAttempt(ctx, req, timeout)
		if err == nil {
			logger.Debug().Int("attempt", state.attempt).Int("status", resp.StatusCode).Msg("request succeeded")
			return resp, nil
		}

		state.lastErr = c.classifyAttempt(ctx, err, resp, req, state.attempt, requestID, start)
		if state.lastErr.Type == ErrorTypeCanceled {
			logger.Debug().Int("attempt", state.attempt).Msg("request canceled")
			return nil, state.lastErr
		}

		decision := c.retry.Decide(state.attempt, state.lastErr, idempotent)
		if !decision.ShouldRetry {
			logger.Warn().
				Err(state.lastErr).
				Int("attempt", state.attempt).
				Str("error_type", state.lastErr.Type).
				Msg("request failed")
			return nil, state.lastErr
		}

		logger.Info().
			Int("attempt", state.attempt).
			Dur("delay", decision.Delay).
			Str("error_type", state.lastErr.Type).
			Msg("scheduling retry")
		c.metrics.RecordRetry(method, endpoint, state.attempt)

		if err := c.wait(ctx, decision.Delay); err != nil {
			return nil, c.createClientError(ErrorTypeCanceled, "request canceled during backoff", err, requestID, req, state.attempt, c.clock.Since(start))
		}
		state.attempt++
	}
}

// sendAttempt runs one transport call raced against the attempt timeout and
// the caller's context. A completed call with a non-2xx status returns both
// the response and an error.
func (c *Client) sendAttempt(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan attemptResult, 1)
	go func() {
		resp, err := c.transport.Send(attemptCtx, req)
		results <- attemptResult{resp: resp, err: err}
	}()

	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-results:
		if r.err != nil {
			return nil, r.err
		}
		if r.resp == nil {
			return nil, errors.New("transport returned no response")
		}
		if ClassifyStatus(r.resp.StatusCode) != "" {
			return r.resp, errUnexpectedStatus
		}
		return r.resp, nil
	case <-timer.C():
		cancel()
		return nil, &attemptTimeoutError{timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// classifyAttempt turns a failed attempt into the ClientError the caller sees.
func (c *Client) classifyAttempt(ctx context.Context, err error, resp *Response, req *Request, attempt int, requestID string, start time.Time) *ClientError {
	duration := c.clock.Since(start)

	if ctx.Err() != nil {
		return c.createClientError(ErrorTypeCanceled, "request canceled", ctx.Err(), requestID, req, attempt, duration)
	}

	if err == errUnexpectedStatus && resp != nil {
		clientErr := c.createClientError(ClassifyStatus(resp.StatusCode), statusMessage(resp.StatusCode), nil, requestID, req, attempt, duration)
		clientErr.StatusCode = resp.StatusCode
		return clientErr
	}

	if timeoutErr, ok := err.(*attemptTimeoutError); ok {
		return c.createClientError(ErrorTypeTimeout, "request timed out", timeoutErr, requestID, req, attempt, duration)
	}

	errorType := Classify(err)
	message := "network request failed"
	switch errorType {
	case ErrorTypeTimeout:
		message = "request timed out"
	case ErrorTypeCanceled:
		// The caller's context is live, so the transport gave up on its own.
		errorType = ErrorTypeNetwork
	}
	return c.createClientError(errorType, message, err, requestID, req, attempt, duration)
}

func (c *Client) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := c.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) createClientError(errorType, message string, cause error, requestID string, req *Request, attempt int, duration time.Duration) *ClientError {
	return &ClientError{
		Type:        errorType,
		Message:     message,
		Cause:       cause,
		RequestID:   requestID,
		Method:      req.method(),
		URL:         req.URL,
		Attempt:     attempt,
		MaxAttempts: c.retry.MaxAttempts(),
		Timestamp:   c.clock.Now(),
		Duration:    duration,
	}
}

// errUnexpectedStatus marks a completed call whose status is not 2xx.
var errUnexpectedStatus = errors.New("unexpected status")

type attemptTimeoutError struct {
	timeout time.Duration
}

func (e *attemptTimeoutError) Error() string {
	return fmt.Sprintf("attempt exceeded %v", e.timeout)
}

func (e *attemptTimeoutError) Timeout() bool { return true }

func (e *attemptTimeoutError) Unwrap() error { return context.DeadlineExceeded }

func statusMessage(status int) string {
	if text := http.StatusText(status); text != "" {
		return strings.ToLower(text)
	}
	return fmt.Sprintf("unexpected status %d", status)
}
