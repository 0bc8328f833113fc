package tokenstore

import (
	"context"
	"sync"
)

// Store persists the single bearer token of the process.
// Read returns ok=false when no token is stored. Clear on an empty store is not an error.
// No validation is performed on the token value.
type Store interface {
	Read(ctx context.Context) (token string, ok bool, err error)
	Write(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the token in process memory. It does not survive a restart;
// used by tests and the --ephemeral CLI flag.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
	set   bool
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Read implements Store.Read.
func (s *MemoryStore) Read(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.set, nil
}

// Write implements Store.Write.
func (s *MemoryStore) Write(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.set = true
	return nil
}

// Clear implements Store.Clear.
func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.set = false
	return nil
}
