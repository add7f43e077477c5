package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL backend behind a DB.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

func (d Dialect) String() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "postgres"
}

// DB wraps a connection pool with the dialect it was opened for. Queries in
// this package are written with ? placeholders and rebound for Postgres.
type DB struct {
	*sql.DB
	dialect Dialect
}

// Open connects to Postgres for postgres:// URLs and to an embedded SQLite
// database for anything else (a file path, sqlite://path, file: or :memory:).
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	dialect, driverName, dsn := detectDialect(databaseURL)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	wrapped := &DB{DB: db, dialect: dialect}
	if dialect == DialectSQLite {
		// One connection keeps :memory: databases alive and serializes writers.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if err := wrapped.initSQLite(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	} else {
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return wrapped, nil
}

// Dialect reports which backend the pool talks to.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

func detectDialect(databaseURL string) (Dialect, string, string) {
	trimmed := strings.TrimSpace(databaseURL)
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return DialectPostgres, "pgx", trimmed
	}
	return DialectSQLite, "sqlite", strings.TrimPrefix(trimmed, "sqlite://")
}

func (db *DB) initSQLite(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout=5000`); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

// rebind converts ? placeholders to $1, $2, ... for Postgres.
func (db *DB) rebind(query string) string {
	if db.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
