package auth

import (
	"context"
	"time"
)

// UserStore describes persistence operations for dashboard users. Email is
// unique; stores report duplicates as errs.ErrConflict.
type UserStore interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
}
