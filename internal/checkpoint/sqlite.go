package checkpoint

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no cgo
)

// SQLiteBackend is the single-node Backend, backed by an embedded database
// file (or :memory: for tests).
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite database at path and
// applies the pragmas the checkpointer relies on for safe concurrent access
// from multiple goroutines in the same process.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open sqlite: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("checkpoint: apply %q: %w", pragma, err)
		}
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return b.db.ExecContext(ctx, query, args...)
}

func (b *SQLiteBackend) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return b.db.QueryContext(ctx, query, args...)
}

func (b *SQLiteBackend) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return b.db.QueryRowContext(ctx, query, args...)
}

func (b *SQLiteBackend) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return b.db.BeginTx(ctx, opts)
}

func (b *SQLiteBackend) Placeholder(n int) string { return "?" }

func (b *SQLiteBackend) Dialect() string { return "sqlite" }

func (b *SQLiteBackend) Close() error { return b.db.Close() }
