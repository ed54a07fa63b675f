/**
 * @description
 * Data access layer for the ROSCA service. One Repository serves both the embedded
 * SQLite database used for local runs and tests, and Postgres in production. Queries
 * are written with `?` placeholders and rebound for Postgres.
 *
 * @dependencies
 * - database/sql: shared driver interface.
 * - github.com/jackc/pgx/v5/stdlib: Postgres driver.
 * - modernc.org/sqlite: pure Go SQLite driver.
 */
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects SQL differences between the supported databases.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// DialectFor picks the dialect for a database URL.
func DialectFor(databaseURL string) Dialect {
	lower := strings.ToLower(strings.TrimSpace(databaseURL))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Repository handles database operations for circles, goals, reputations and events.
type Repository struct {
	db      *sql.DB
	dialect Dialect
}

// NewRepository wraps an open database.
func NewRepository(db *sql.DB, dialect Dialect) *Repository {
	return &Repository{db: db, dialect: dialect}
}

// Open connects to databaseURL. Postgres URLs use pgx; anything else is treated as a
// SQLite path or file: URI.
func Open(ctx context.Context, databaseURL string) (*Repository, error) {
	dialect := DialectFor(databaseURL)
	driver := "sqlite"
	if dialect == DialectPostgres {
		driver = "pgx"
	} else if err := ensureSQLiteDir(databaseURL); err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect == DialectSQLite {
		// SQLite allows one writer; a single connection keeps transactions from
		// failing with SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewRepository(db, dialect), nil
}

func ensureSQLiteDir(databaseURL string) error {
	path := strings.TrimPrefix(databaseURL, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.Contains(path, ":memory:") {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) Dialect() Dialect { return r.dialect }

func (r *Repository) Close() error { return r.db.Close() }

func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// Migrate applies the embedded schema migrations.
func (r *Repository) Migrate(ctx context.Context) error {
	return applyMigrations(ctx, r.db, r.dialect, migrationFS, "migrations")
}

// rebind rewrites `?` placeholders to `$n` for Postgres.
func (r *Repository) rebind(query string) string {
	return rebind(r.dialect, query)
}

func rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// withTx runs fn inside a transaction, rolling back on error.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
