package tahan

import (
	"context"
	"sync"
)

// TokenStore persists the current token across process restarts. Load
// returns (nil, nil) when nothing is stored.
type TokenStore interface {
	Load(ctx context.Context) (*Token, error)
	Save(ctx context.Context, token *Token) error
	Clear(ctx context.Context) error
}

// MemoryTokenStore keeps the token in process memory. It is the default
// store of a TokenManager.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token *Token
}

// NewMemoryTokenStore returns an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

// Load implements TokenStore.
func (s *MemoryTokenStore) Load(_ context.Context) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.clone(), nil
}

// Save implements TokenStore.
func (s *MemoryTokenStore) Save(_ context.Context, token *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token.clone()
	return nil
}

// Clear implements TokenStore.
func (s *MemoryTokenStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
	return nil
}
