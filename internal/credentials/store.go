// Package credentials resolves per-account terminal login secrets.
// Secrets are kept encrypted at rest (Vault or a sealed local file) and
// decrypted just-in-time for each login; nothing in this package persists
// plaintext.
package credentials

import (
	"context"
	"errors"
	"sync"

	"fund-terminal-bridge/internal/terminal"
)

// ErrNotFound is returned when no secret exists for an account.
var ErrNotFound = errors.New("credentials: account not found")

// Store resolves login secrets for managed accounts.
type Store interface {
	Resolve(ctx context.Context, accountID int64) (terminal.Credentials, error)
}

// MockStore is an in-memory store for development and tests.
type MockStore struct {
	mu      sync.RWMutex
	secrets map[int64]terminal.Credentials
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{secrets: make(map[int64]terminal.Credentials)}
}

// Set registers credentials for an account.
func (s *MockStore) Set(accountID int64, creds terminal.Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[accountID] = creds
}

// Resolve returns the registered credentials.
func (s *MockStore) Resolve(_ context.Context, accountID int64) (terminal.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds, ok := s.secrets[accountID]
	if !ok {
		return terminal.Credentials{}, ErrNotFound
	}
	return creds, nil
}
