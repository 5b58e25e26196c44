// Package session holds the authenticated identity for the lifetime of the
// client process.
package session

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-client/internal/domain"
	"github.com/fathima-sithara/chat-client/internal/logger"
)

// Cache persists the identity between process runs.
type Cache interface {
	Load() (*domain.Identity, error)
	Save(id domain.Identity) error
	Clear() error
}

type Store struct {
	mu        sync.RWMutex
	current   *domain.Identity
	cache     Cache
	log       *zap.Logger
	listeners []func(*domain.Identity)
}

func New(cache Cache, log *zap.Logger) *Store {
	return &Store{cache: cache, log: logger.OrNop(log).Named("session")}
}

// Rehydrate restores a cached identity, if any.
func (s *Store) Rehydrate() error {
	if s.cache == nil {
		return nil
	}
	id, err := s.cache.Load()
	if err != nil {
		return fmt.Errorf("rehydrate session: %w", err)
	}
	if id == nil {
		return nil
	}
	s.set(id)
	s.log.Info("session rehydrated", zap.String("user_id", id.ID))
	return nil
}

func (s *Store) Current() (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return domain.Identity{}, false
	}
	return *s.current, true
}

// UserID returns the current identity id or "" when signed out.
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.ID
}

func (s *Store) SignIn(id domain.Identity) error {
	id.ID = strings.TrimSpace(id.ID)
	if id.ID == "" {
		return fmt.Errorf("%w: identity id required", domain.ErrInvalidInput)
	}
	if id.DisplayName == "" {
		id.DisplayName = id.ID
	}
	id.Online = true
	if s.cache != nil {
		if err := s.cache.Save(id); err != nil {
			s.log.Warn("session cache save failed", zap.Error(err))
		}
	}
	s.set(&id)
	s.log.Info("signed in", zap.String("user_id", id.ID))
	return nil
}

func (s *Store) SignOut() error {
	var err error
	if s.cache != nil {
		err = s.cache.Clear()
	}
	s.set(nil)
	s.log.Info("signed out")
	return err
}

// OnChange registers fn to run after every sign-in or sign-out.
func (s *Store) OnChange(fn func(*domain.Identity)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) set(id *domain.Identity) {
	s.mu.Lock()
	s.current = id
	listeners := append([]func(*domain.Identity){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(id)
	}
}
