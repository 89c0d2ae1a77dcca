package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ormdash.org/internal/auth"
	"ormdash.org/internal/errs"
)

var _ auth.UserStore = (*Store)(nil)

const userColumns = `id, name, email, role, unit_access, can_export, can_view_historical,
	can_view_pii, is_active, created_at, last_login`

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	access, err := json.Marshal(nonNil(u.UnitAccess))
	if err != nil {
		return auth.User{}, fmt.Errorf("encode unit access: %w", err)
	}
	var lastLogin sql.NullTime
	if !u.LastLogin.IsZero() {
		lastLogin = sql.NullTime{Time: utc(u.LastLogin), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, u.ID, u.Name, strings.ToLower(u.Email), u.Role.String(), access, u.CanExport, u.CanViewHistorical,
		u.CanViewPII, u.Active, utc(u.CreatedAt), lastLogin)
	if err != nil {
		return auth.User{}, s.fail(err, "user "+u.Email)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return auth.User{}, s.fail(err, "user "+id)
	}
	return u, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (auth.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where lower(email) = $1`, email)
	u, err := scanUser(row)
	if err != nil {
		return auth.User{}, s.fail(err, "user with email "+email)
	}
	return u, nil
}

func (s *Store) TouchLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login = $2 where id = $1`, id, utc(at))
	if err != nil {
		return errs.Unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errs.Unavailable(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: user %s", errs.ErrNotFound, id)
	}
	return nil
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		u         auth.User
		role      string
		access    []byte
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &access, &u.CanExport, &u.CanViewHistorical,
		&u.CanViewPII, &u.Active, &u.CreatedAt, &lastLogin); err != nil {
		return auth.User{}, err
	}
	var err error
	if u.Role, err = auth.ParseRole(role); err != nil {
		return auth.User{}, err
	}
	if err := json.Unmarshal(access, &u.UnitAccess); err != nil {
		return auth.User{}, fmt.Errorf("user %s unit access: %w", u.ID, err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	if lastLogin.Valid {
		u.LastLogin = lastLogin.Time.UTC()
	}
	return u, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
