// Package migrate applies the SQL schema and seed files shipped with each
// store dialect and keeps a record of what has run.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
	defaultTimestampType   = "timestamptz"
)

// ErrNothingApplied is returned by Down when no migration has run yet.
var ErrNothingApplied = errors.New("no migrations applied")

// fileSet is one family of SQL files and the table that records them.
type fileSet struct {
	kind   string
	dir    string
	suffix string
	table  string
}

// Entry is one line of Status output.
type Entry struct {
	Name      string
	AppliedAt time.Time
	Pending   bool
}

// Manager runs the files found in fsys: migrations/*.up.sql with matching
// *.down.sql, and seeds/*.sql. Each file runs in its own transaction together
// with its bookkeeping row, so a failed file leaves no trace.
type Manager struct {
	db            *sql.DB
	fsys          fs.FS
	migrations    fileSet
	seeds         fileSet
	timestampType string
	now           func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrations.table = name
		}
	}
}

// WithSeedsTable overrides the seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seeds.table = name
		}
	}
}

// WithTimestampType sets the applied_at column type. SQLite wants "timestamp".
func WithTimestampType(typ string) Option {
	return func(m *Manager) {
		if typ != "" {
			m.timestampType = typ
		}
	}
}

// WithClock overrides the time source used for applied_at.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(db *sql.DB, fsys fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:            db,
		fsys:          fsys,
		migrations:    fileSet{kind: "migration", dir: "migrations", suffix: ".up.sql", table: defaultMigrationsTable},
		seeds:         fileSet{kind: "seed", dir: "seeds", suffix: ".sql", table: defaultSeedsTable},
		timestampType: defaultTimestampType,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies every pending migration in name order.
func (m *Manager) Up(ctx context.Context) error {
	_, err := m.applyPending(ctx, m.migrations)
	return err
}

// Seed applies every seed file not applied before.
func (m *Manager) Seed(ctx context.Context) error {
	_, err := m.applyPending(ctx, m.seeds)
	return err
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTables(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx, m.migrations.table)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return ErrNothingApplied
	}
	last := applied[len(applied)-1].Name
	downPath := path.Join(m.migrations.dir, strings.TrimSuffix(last, m.migrations.suffix)+".down.sql")
	if _, err := fs.Stat(m.fsys, downPath); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	forget := fmt.Sprintf(`delete from %s where name = $1`, m.migrations.table)
	if err := m.runFile(ctx, downPath, forget, last); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	return nil
}

// Status lists applied migrations in order, followed by pending ones.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	entries, err := m.applied(ctx, m.migrations.table)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(entries))
	for _, e := range entries {
		done[e.Name] = true
	}
	files, err := collectSQL(m.fsys, m.migrations)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if !done[f.name] {
			entries = append(entries, Entry{Name: f.name, Pending: true})
		}
	}
	return entries, nil
}

func (m *Manager) applyPending(ctx context.Context, set fileSet) (int, error) {
	if err := m.ensureTables(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx, set.table)
	if err != nil {
		return 0, err
	}
	done := make(map[string]bool, len(applied))
	for _, e := range applied {
		done[e.Name] = true
	}
	files, err := collectSQL(m.fsys, set)
	if err != nil {
		return 0, err
	}
	record := fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, set.table)
	count := 0
	for _, f := range files {
		if done[f.name] {
			continue
		}
		if err := m.runFile(ctx, f.path, record, f.name, m.now().UTC()); err != nil {
			return count, fmt.Errorf("apply %s %s: %w", set.kind, f.name, err)
		}
		count++
	}
	return count, nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrations.table, m.seeds.table} {
		ddl := fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at %s not null default current_timestamp
		)`, table, m.timestampType)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

// runFile executes every statement of the file and then the bookkeeping
// statement, all in one transaction.
func (m *Manager) runFile(ctx context.Context, name, bookkeeping string, args ...any) error {
	raw, err := fs.ReadFile(m.fsys, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context, table string) ([]Entry, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type sqlFile struct {
	name string
	path string
}

// collectSQL lists the set's files sorted by name. A missing directory is an
// empty set.
func collectSQL(fsys fs.FS, set fileSet) ([]sqlFile, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, set.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []sqlFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), set.suffix) {
			continue
		}
		files = append(files, sqlFile{name: e.Name(), path: path.Join(set.dir, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

// splitStatements splits a script on semicolons outside single-quoted
// literals and drops "--" line comments. Blank statements are skipped.
func splitStatements(script string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	runes := []rune(script)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'':
			inString = !inString
			current.WriteRune(r)
		case !inString && r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			current.WriteRune('\n')
		case !inString && r == ';':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return stmts
}
