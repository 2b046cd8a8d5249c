package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Dialect identifies the SQL flavour behind a DB handle.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DB is a database handle plus the dialect needed to rewrite placeholders.
// Queries are written with '?' placeholders and passed through Rebind.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Config selects and configures the backing store.
type Config struct {
	Driver string // sqlite | postgres
	Path   string // sqlite file
	DSN    string // postgres URL
}

// Open opens the configured backend and bootstraps its tables.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		db, err := OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return &DB{DB: db, Dialect: DialectSQLite}, nil
	case "postgres", "postgresql", "pgx":
		db, err := OpenPostgres(ctx, PostgresConfig{URL: cfg.DSN})
		if err != nil {
			return nil, err
		}
		return &DB{DB: db, Dialect: DialectPostgres}, nil
	default:
		return nil, fmt.Errorf("unsupported state driver %q", cfg.Driver)
	}
}

// Rebind rewrites '?' placeholders to the dialect's positional form.
func (d *DB) Rebind(query string) string {
	return Rebind(d.Dialect, query)
}

// Rebind rewrites '?' placeholders to $1..$N for postgres. Quoted literals are left alone.
func Rebind(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
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

func bootstrap(ctx context.Context, db *sql.DB, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}
