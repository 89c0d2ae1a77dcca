package auth

import (
	"errors"
	"fmt"

	"ormdash.org/internal/errs"
)

var (
	// ErrInvalidToken indicates the bearer token failed verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInactiveUser is returned when a verified token names a disabled account.
	ErrInactiveUser = fmt.Errorf("%w: user is inactive", errs.ErrForbidden)
)
