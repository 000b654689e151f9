package tahan

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/ambiyansyah-risyal/tahan/internal/singleflight"
)

const (
	// DefaultTokenExpiryBuffer is how long before ExpiresAt a token stops
	// being sent.
	DefaultTokenExpiryBuffer = 5 * time.Minute
	// DefaultRevokeTimeout bounds the best-effort revocation in Logout.
	DefaultRevokeTimeout = 10 * time.Second

	refreshKey = "refresh"
)

// Authenticator is the remote identity provider.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) (*Token, error)
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
	Revoke(ctx context.Context, token *Token) error
}

// Authorizer supplies the headers that authenticate a request.
type Authorizer interface {
	AuthHeaders(ctx context.Context) (map[string]string, error)
}

// TokenManagerConfig tunes a TokenManager. Zero values select defaults.
type TokenManagerConfig struct {
	ExpiryBuffer  time.Duration
	RevokeTimeout time.Duration
	Clock         clock.PassiveClock
	Logger        *zerolog.Logger
	Metrics       *MetricsCollector
}

// TokenManager owns the current token and serializes refreshes so that any
// number of concurrent callers trigger at most one remote refresh.
type TokenManager struct {
	auth  Authenticator
	store TokenStore

	expiryBuffer  time.Duration
	revokeTimeout time.Duration
	clock         clock.PassiveClock
	logger        zerolog.Logger
	metrics       *MetricsCollector

	// persistMu orders store writes with the in-memory commit so that a
	// settled refresh can never write back a token Logout already cleared.
	persistMu sync.Mutex

	mu         sync.RWMutex
	token      *Token
	generation uint64

	group *singleflight.Group[*Token]
}

// NewTokenManager creates a manager. A nil store keeps the token in memory
// only.
func NewTokenManager(auth Authenticator, store TokenStore, cfg TokenManagerConfig) *TokenManager {
	if store == nil {
		store = NewMemoryTokenStore()
	}
	m := &TokenManager{
		auth:          auth,
		store:         store,
		expiryBuffer:  cfg.ExpiryBuffer,
		revokeTimeout: cfg.RevokeTimeout,
		clock:         cfg.Clock,
		metrics:       cfg.Metrics,
		group:         singleflight.New[*Token](),
	}
	if m.expiryBuffer <= 0 {
		m.expiryBuffer = DefaultTokenExpiryBuffer
	}
	if m.revokeTimeout <= 0 {
		m.revokeTimeout = DefaultRevokeTimeout
	}
	if m.clock == nil {
		m.clock = clock.RealClock{}
	}
	if cfg.Logger != nil {
		m.logger = cfg.Logger.With().Str("component", "token_manager").Logger()
	} else {
		m.logger = zerolog.Nop()
	}
	return m
}

// Restore loads a previously saved token. A stored token that has already
// expired is discarded and removed from the store.
func (m *TokenManager) Restore(ctx context.Context) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	stored, err := m.store.Load(ctx)
	if err != nil {
		return NewClientError(ErrorTypeAuthentication, "failed to load stored token", err)
	}
	if stored.IsZero() {
		return nil
	}

	tok := normalizeToken(stored, m.clock.Now())
	if tok.Expired(m.clock.Now()) {
		m.logger.Debug().Time("expires_at", tok.ExpiresAt).Msg("discarding expired stored token")
		if err := m.store.Clear(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("failed to clear expired stored token")
		}
		return nil
	}

	m.mu.Lock()
	m.token = tok
	m.generation++
	m.mu.Unlock()
	return nil
}

// Token returns a copy of the current token, or nil.
func (m *TokenManager) Token() *Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token.clone()
}

// IsAuthenticated reports whether a token is held that is outside the expiry
// buffer.
func (m *TokenManager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token.Usable(m.clock.Now(), m.expiryBuffer)
}

// Login exchanges credentials for a token and persists it.
func (m *TokenManager) Login(ctx context.Context, creds Credentials) (*Token, error) {
	if m.auth == nil {
		return nil, NewClientError(ErrorTypeAuthentication, "no authenticator configured", nil)
	}
	tok, err := m.auth.Login(ctx, creds)
	if err != nil {
		return nil, m.authFailure("login failed", err)
	}
	if tok.IsZero() {
		return nil, NewClientError(ErrorTypeAuthentication, "login returned no access token", nil)
	}
	tok = normalizeToken(tok, m.clock.Now())

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	m.token = tok
	m.generation++
	m.mu.Unlock()
	// An in-flight refresh for the previous session must not be joined.
	m.group.Forget(refreshKey)

	if err := m.store.Save(ctx, tok); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist token after login")
	}
	m.logger.Debug().Time("expires_at", tok.ExpiresAt).Msg("logged in")
	return tok.clone(), nil
}

// AuthHeaders returns the Authorization header for the current token,
// refreshing first when the token is missing its buffer but can be renewed.
func (m *TokenManager) AuthHeaders(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	tok := m.token
	m.mu.RUnlock()

	if tok.Usable(m.clock.Now(), m.expiryBuffer) {
		return map[string]string{"Authorization": tok.AuthorizationHeader()}, nil
	}
	if tok == nil || tok.RefreshToken == "" {
		return nil, NewClientError(ErrorTypeAuthentication, "no usable token", nil)
	}

	refreshed, err := m.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": refreshed.AuthorizationHeader()}, nil
}

// Refresh renews the token. Concurrent calls share a single remote refresh
// and all receive the same token or the same error. A caller whose ctx ends
// stops waiting; the refresh itself continues while anyone is still waiting.
func (m *TokenManager) Refresh(ctx context.Context) (*Token, error) {
	if m.auth == nil {
		return nil, NewClientError(ErrorTypeAuthentication, "no authenticator configured", nil)
	}

	tok, err, joined := m.group.Do(ctx, refreshKey, m.refresh)
	if joined {
		m.metrics.RecordRefreshJoin()
	}
	if err != nil {
		var clientErr *ClientError
		if errors.As(err, &clientErr) {
			return nil, err
		}
		// Only this caller's context can produce a bare error here.
		return nil, &ClientError{Type: ErrorTypeCanceled, Message: "refresh wait abandoned", Cause: err}
	}
	return tok.clone(), nil
}

// refresh runs once per shared refresh, on a context owned by its waiters.
func (m *TokenManager) refresh(ctx context.Context) (*Token, error) {
	m.mu.RLock()
	current := m.token
	gen := m.generation
	m.mu.RUnlock()

	if current == nil || current.RefreshToken == "" {
		m.metrics.RecordTokenRefresh("unavailable")
		return nil, NewClientError(ErrorTypeAuthentication, "no refresh token", nil)
	}

	start := m.clock.Now()
	fresh, err := m.auth.Refresh(ctx, current.RefreshToken)
	if ctx.Err() != nil {
		// Every waiter left; leave the token as it is.
		m.metrics.RecordTokenRefresh("abandoned")
		return nil, &ClientError{Type: ErrorTypeCanceled, Message: "refresh abandoned", Cause: ctx.Err()}
	}
	if err == nil && fresh.IsZero() {
		err = NewClientError(ErrorTypeAuthentication, "refresh returned no access token", nil)
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	if err != nil {
		rejected := isRejection(err)
		if rejected {
			m.discard(ctx, gen)
		}
		m.metrics.RecordTokenRefresh("failure")
		m.logger.Warn().Err(err).Bool("token_cleared", rejected).Dur("duration", m.clock.Since(start)).Msg("token refresh failed")
		return nil, m.authFailure("token refresh failed", err)
	}

	if fresh.RefreshToken == "" {
		fresh = fresh.clone()
		fresh.RefreshToken = current.RefreshToken
	}
	fresh = normalizeToken(fresh, m.clock.Now())

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		m.metrics.RecordTokenRefresh("superseded")
		return nil, NewClientError(ErrorTypeAuthentication, "session ended during refresh", nil)
	}
	m.token = fresh
	m.mu.Unlock()

	if err := m.store.Save(ctx, fresh); err != nil {
		m.logger.Warn().Err(err).Msg("failed to persist refreshed token")
	}
	m.metrics.RecordTokenRefresh("success")
	m.logger.Debug().Time("expires_at", fresh.ExpiresAt).Dur("duration", m.clock.Since(start)).Msg("token refreshed")
	return fresh, nil
}

// discard drops the token of generation gen. Callers hold persistMu.
func (m *TokenManager) discard(ctx context.Context, gen uint64) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.token = nil
	m.generation++
	m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear rejected token from store")
	}
}

// Logout forgets the token locally and in the store, then asks the
// authenticator to revoke it. It never fails; revocation errors are logged.
func (m *TokenManager) Logout(ctx context.Context) {
	m.persistMu.Lock()
	m.mu.Lock()
	tok := m.token
	m.token = nil
	m.generation++
	m.mu.Unlock()
	m.group.Forget(refreshKey)

	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("failed to clear token store on logout")
	}
	m.persistMu.Unlock()

	if tok.IsZero() || m.auth == nil {
		return
	}

	revokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.revokeTimeout)
	defer cancel()
	if err := m.auth.Revoke(revokeCtx, tok); err != nil {
		m.logger.Warn().Err(err).Msg("token revocation failed")
	}
}

func (m *TokenManager) authFailure(message string, cause error) *ClientError {
	return &ClientError{
		Type:      ErrorTypeAuthentication,
		Message:   message,
		Cause:     cause,
		Timestamp: m.clock.Now(),
	}
}

// isRejection reports whether the provider refused the credentials outright,
// as opposed to failing transiently.
func isRejection(err error) bool {
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return false
	}
	switch clientErr.Type {
	case ErrorTypeAuthentication:
		return true
	case ErrorTypeClient:
		return clientErr.StatusCode != http.StatusTooManyRequests
	default:
		return false
	}
}
