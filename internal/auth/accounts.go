package auth

import (
	"context"
	"errors"
	"sync"
)

type MemoryAccountStore struct {
	mu         sync.RWMutex
	byUsername map[string]*Account
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{byUsername: map[string]*Account{}}
}

func (s *MemoryAccountStore) Add(_ context.Context, a *Account) error {
	if a == nil || a.Username == "" {
		return errors.New("account is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byUsername[a.Username]; exists {
		return ErrAccountExists
	}
	clone := *a
	s.byUsername[a.Username] = &clone
	return nil
}

func (s *MemoryAccountStore) Update(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUsername[a.Username]; !ok {
		return ErrAccountNotFound
	}
	clone := *a
	s.byUsername[a.Username] = &clone
	return nil
}

func (s *MemoryAccountStore) Find(_ context.Context, username string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.byUsername[username]; ok {
		clone := *a
		return &clone, nil
	}
	return nil, ErrAccountNotFound
}
