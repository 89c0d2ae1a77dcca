package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ormdash.org/internal/errs"
	"ormdash.org/internal/ids"
)

// NewUser is the input for registering a dashboard account.
type NewUser struct {
	ID                string
	Name              string
	Email             string
	Role              string
	UnitAccess        []string
	CanExport         bool
	CanViewHistorical bool
	CanViewPII        bool
}

// UserService validates and registers users.
type UserService struct {
	store UserStore
	now   func() time.Time
}

func NewUserService(store UserStore) (*UserService, error) {
	if store == nil {
		return nil, errors.New("user store is required")
	}
	return &UserService{store: store, now: time.Now}, nil
}

func (s *UserService) CreateUser(ctx context.Context, in NewUser) (User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return User{}, fmt.Errorf("%w: name is required", errs.ErrValidation)
	}
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", errs.ErrValidation)
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		return User{}, err
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = ids.New()
	}
	return s.store.CreateUser(ctx, User{
		ID:                id,
		Name:              name,
		Email:             email,
		Role:              role,
		UnitAccess:        dedupeStrings(in.UnitAccess),
		CanExport:         in.CanExport,
		CanViewHistorical: in.CanViewHistorical,
		CanViewPII:        in.CanViewPII,
		Active:            true,
		CreatedAt:         s.now().UTC(),
	})
}

func (s *UserService) GetUser(ctx context.Context, id string) (User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user_id is required", errs.ErrValidation)
	}
	return s.store.GetUser(ctx, id)
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
