package database

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// ErrUniqueViolation wraps driver errors caused by a unique or primary key
// constraint.
var ErrUniqueViolation = errors.New("unique constraint violation")

// Dialect hides the differences between the supported SQL backends.
// Repositories write queries with ? placeholders and pass them through
// Rebind.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string
	// DriverName returns the database/sql driver name.
	DriverName() string
	Rebind(query string) string
	MapError(err error) error
}

func NewDialect(driver string) (Dialect, error) {
	switch driver {
	case "sqlite":
		return SQLiteDialect{}, nil
	case "postgres":
		return PostgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

type SQLiteDialect struct{}

func (SQLiteDialect) Name() string       { return "sqlite" }
func (SQLiteDialect) DriverName() string { return "sqlite3" }

func (SQLiteDialect) Rebind(query string) string { return query }

func (SQLiteDialect) MapError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
		}
	}
	return err
}

type PostgresDialect struct{}

func (PostgresDialect) Name() string       { return "postgres" }
func (PostgresDialect) DriverName() string { return "pgx" }

// Rebind rewrites ? placeholders to $1, $2, ... skipping quoted literals.
func (PostgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (PostgresDialect) MapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}
