// Package sqlstore implements the flight, user and audit stores on
// database/sql, for PostgreSQL through pgx and SQLite through modernc.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"ormdash.org/internal/errs"
)

//go:embed migrations
var migrationFiles embed.FS

type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database named by url; see DialectFor.
func Open(url string) (*Store, error) {
	dialect, dsn := DialectFor(url)
	if dsn == "" {
		return nil, errors.New("database url is empty")
	}
	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, err
	}
	switch dialect.Name {
	case Postgres.Name:
		// Tuned pool defaults; adjust under load tests
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	case SQLite.Name:
		// one connection keeps pragmas in effect and writers serialized
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := db.Exec(pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}
	return New(db, dialect), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// fail classifies a driver error. what names the record for not-found and
// conflict messages.
func (s *Store) fail(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %s", errs.ErrNotFound, what)
	case s.dialect.unique(err):
		return fmt.Errorf("%w: %s already exists", errs.ErrConflict, what)
	case s.dialect.foreignKey(err):
		return fmt.Errorf("%w: %s references a missing record", errs.ErrNotFound, what)
	default:
		return errs.Unavailable(err)
	}
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Unavailable(err)
	}
	return nil
}

// placeholders renders "$from, $from+1, ..." for n arguments.
func placeholders(from, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(parts, ", ")
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
