// Package session holds the single upstream session credential shared by
// every request the proxy serves.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrUnconfigured is returned by Get when no session token has been set.
var ErrUnconfigured = errors.New("no kagi session key configured")

type Credential struct {
	Token     string
	UpdatedAt time.Time
}

type Store struct {
	mu        sync.RWMutex
	token     string
	updatedAt time.Time
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// NewStoreWithToken returns a store seeded with token. An empty token leaves
// the store unconfigured.
func NewStoreWithToken(token string) *Store {
	s := NewStore()
	if strings.TrimSpace(token) != "" {
		s.Set(token)
	}
	return s
}

// Get returns a copy of the current credential.
func (s *Store) Get() (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return Credential{}, ErrUnconfigured
	}
	return Credential{Token: s.token, UpdatedAt: s.updatedAt}, nil
}

func (s *Store) Set(token string) {
	token = strings.TrimSpace(token)
	now := time.Now()
	if s.now != nil {
		now = s.now()
	}
	s.mu.Lock()
	s.token = token
	s.updatedAt = now
	s.mu.Unlock()
}

func (s *Store) LastUpdated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

func (s *Store) Configured() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}
