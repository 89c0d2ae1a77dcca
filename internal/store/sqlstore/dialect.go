package sqlstore

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Dialect captures what differs between the supported databases. Queries use
// $N placeholders, which both drivers accept.
type Dialect struct {
	Name string
	// Driver is the database/sql driver name.
	Driver string
	// LockClause is appended to selects that read a row before updating it.
	LockClause string
	// TimestampType is the column type used for bookkeeping tables.
	TimestampType string

	unique     func(error) bool
	foreignKey func(error) bool
	dir        string
}

var (
	Postgres = Dialect{
		Name:          "postgres",
		Driver:        "pgx",
		LockClause:    " for update",
		TimestampType: "timestamptz",
		unique:        func(err error) bool { return pgCode(err) == pgErrUniqueViolation },
		foreignKey:    func(err error) bool { return pgCode(err) == pgErrForeignKeyViolation },
		dir:           "migrations/postgres",
	}
	// SQLite serializes writers itself, so it needs no row lock.
	SQLite = Dialect{
		Name:          "sqlite",
		Driver:        "sqlite",
		TimestampType: "timestamp",
		unique: func(err error) bool {
			c := sqliteCode(err)
			return c == sqlite3.SQLITE_CONSTRAINT_UNIQUE || c == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
		},
		foreignKey: func(err error) bool { return sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY },
		dir:        "migrations/sqlite",
	}
)

// DialectFor picks the dialect from a database URL and returns the DSN the
// driver expects. postgres:// and postgresql:// URLs go to pgx; sqlite:// URLs
// and plain paths go to SQLite.
func DialectFor(url string) (Dialect, string) {
	url = strings.TrimSpace(url)
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return Postgres, url
	case strings.HasPrefix(url, "sqlite:///"):
		return SQLite, strings.TrimPrefix(url, "sqlite:///")
	case strings.HasPrefix(url, "sqlite://"):
		return SQLite, strings.TrimPrefix(url, "sqlite://")
	default:
		return SQLite, url
	}
}

// DialectName reports which dialect a database URL selects.
func DialectName(url string) string {
	d, _ := DialectFor(url)
	return d.Name
}

// Migrations returns the embedded migration and seed files for the dialect,
// laid out as migrations/*.up.sql, migrations/*.down.sql and seeds/*.sql.
func (d Dialect) Migrations() (fs.FS, error) {
	return fs.Sub(migrationFiles, d.dir)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func sqliteCode(err error) int {
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code()
	}
	return 0
}
