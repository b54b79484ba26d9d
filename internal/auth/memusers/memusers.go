// Package memusers provides an in-memory implementation of auth.Store.
package memusers

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/maternahealth/materna/internal/auth"
)

// Store holds accounts in memory. Suitable for dev/testing.
type Store struct {
	mu    sync.RWMutex
	users map[string]*auth.User // lowercased username -> user
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{users: make(map[string]*auth.User)}
}

// Create stores a copy of the account, assigning its ID.
func (s *Store) Create(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Username)
	if _, ok := s.users[key]; ok {
		return auth.ErrExists
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	cp := *u
	s.users[key] = &cp
	return nil
}

// GetByUsername returns a copy of the account.
func (s *Store) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.ToLower(username)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *u
	return &cp, nil
}
