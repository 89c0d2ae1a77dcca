package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"ormdash.org/internal/errs"
)

// InMemoryUsers implements UserStore for tests and demos.
type InMemoryUsers struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

var _ UserStore = (*InMemoryUsers)(nil)

func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{byID: make(map[string]User), byEmail: make(map[string]string)}
}

func (s *InMemoryUsers) CreateUser(ctx context.Context, u User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Email)
	if _, ok := s.byEmail[key]; ok {
		return User{}, fmt.Errorf("%w: email %s already registered", errs.ErrConflict, u.Email)
	}
	if _, ok := s.byID[u.ID]; ok {
		return User{}, fmt.Errorf("%w: user %s already exists", errs.ErrConflict, u.ID)
	}
	u.UnitAccess = slices.Clone(u.UnitAccess)
	s.byID[u.ID] = u
	s.byEmail[key] = u.ID
	return u, nil
}

func (s *InMemoryUsers) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", errs.ErrNotFound, id)
	}
	u.UnitAccess = slices.Clone(u.UnitAccess)
	return u, nil
}

func (s *InMemoryUsers) FindByEmail(ctx context.Context, email string) (User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	s.mu.RUnlock()
	if !ok {
		return User{}, fmt.Errorf("%w: user with email %s", errs.ErrNotFound, email)
	}
	return s.GetUser(ctx, id)
}

func (s *InMemoryUsers) TouchLogin(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: user %s", errs.ErrNotFound, id)
	}
	u.LastLogin = at.UTC()
	s.byID[id] = u
	return nil
}
