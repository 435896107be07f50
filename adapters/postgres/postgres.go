// Package postgres provides a PostgreSQL implementation of the saga
// store adapter.
package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/R-Suite/busline/adapters"
)

// Sentinel errors for the postgres adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	ErrSagaNotFound        = adapters.ErrSagaNotFound
	ErrRecordLocked        = adapters.ErrRecordLocked
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict
	ErrStoreUnavailable    = adapters.ErrStoreUnavailable
	ErrWakeupNotFound      = adapters.ErrWakeupNotFound
)

// Option configures the database connection.
type Option func(*sql.DB)

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(db *sql.DB) {
		db.SetMaxOpenConns(n)
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(db *sql.DB) {
		db.SetMaxIdleConns(n)
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(db *sql.DB) {
		db.SetConnMaxLifetime(d)
	}
}

// Open opens a PostgreSQL connection pool using the pgx stdlib driver.
func Open(connStr string, opts ...Option) (*sql.DB, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("busline/postgres: failed to open database: %w", err)
	}

	for _, opt := range opts {
		opt(db)
	}

	return db, nil
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// validateIdentifier checks if a name is a valid PostgreSQL identifier.
// This helps prevent SQL injection when using identifiers in queries.
func validateIdentifier(name, kind string) error {
	if name == "" {
		return fmt.Errorf("busline/postgres: %s name cannot be empty", kind)
	}
	if len(name) > 63 {
		return fmt.Errorf("busline/postgres: %s name exceeds 63 characters", kind)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("busline/postgres: %s name contains invalid characters", kind)
	}
	return nil
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteQualifiedTable(schema, table string) string {
	return quoteIdentifier(schema) + "." + quoteIdentifier(table)
}

// pathArray renders a predicate path as a PostgreSQL text[] literal for
// the #>> operator.
func pathArray(path []string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strings.ReplaceAll(p, `"`, `\"`)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// predicateText renders a predicate value the way #>> renders the
// matching JSONB leaf, so the two compare as text.
func predicateText(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	if s, ok := value.(fmt.Stringer); ok {
		return s.String(), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("busline/postgres: unsupported predicate value: %w", err)
	}
	return strings.Trim(string(raw), `"`), nil
}

// storeErr wraps a driver failure so callers can classify it with
// errors.Is(err, ErrStoreUnavailable).
func storeErr(op string, err error) error {
	return fmt.Errorf("busline/postgres: %s: %v: %w", op, err, adapters.ErrStoreUnavailable)
}
