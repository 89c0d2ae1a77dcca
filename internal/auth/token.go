package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the bearer token claims the dashboard relies on. Tokens are
// issued by the identity provider; this package only verifies them.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies bearer tokens and resolves the user they name.
type Authenticator struct {
	users  UserStore
	secret []byte
	issuer string
	now    func() time.Time
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithIssuer requires tokens to carry the given issuer.
func WithIssuer(issuer string) AuthenticatorOption {
	return func(a *Authenticator) {
		a.issuer = strings.TrimSpace(issuer)
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		if fn != nil {
			a.now = fn
		}
	}
}

func NewAuthenticator(users UserStore, secret string, opts ...AuthenticatorOption) (*Authenticator, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth secret is not configured")
	}
	a := &Authenticator{users: users, secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// ParseAndValidate verifies the token signature and required claims.
func (a *Authenticator) ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := a.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (a *Authenticator) validateClaims(claims *Claims) error {
	if a.issuer != "" && claims.Issuer != a.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	return nil
}

// Authenticate verifies the token and loads the active user it names.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (User, error) {
	claims, err := a.ParseAndValidate(token)
	if err != nil {
		return User{}, err
	}
	user, err := a.users.GetUser(ctx, claims.Subject)
	if err != nil {
		return User{}, err
	}
	if !user.Active {
		return User{}, ErrInactiveUser
	}
	if err := a.users.TouchLogin(ctx, user.ID, a.now()); err != nil {
		return User{}, err
	}
	return user, nil
}
