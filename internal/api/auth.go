package api

import (
	"context"
	"sync"
)

// TokenSource yields a bearer token for authenticating backend requests.
// An empty token means "no authentication"; requests are sent without an
// Authorization header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

// TokenStore is a mutable TokenSource. It is safe for concurrent use, so a
// config watcher can refresh the token while requests are in flight.
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewTokenStore creates a TokenStore holding the initial token.
func NewTokenStore(initial string) *TokenStore {
	return &TokenStore{token: initial}
}

// Token implements TokenSource.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

// Set replaces the stored token.
func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}
