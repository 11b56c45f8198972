// Package checkpoint implements the durable checkpointer: a content-addressed
// store of per-thread graph state, keyed by thread, namespace, and
// checkpoint ID, over a pluggable SQL backend.
package checkpoint

import (
	"context"
	"database/sql"
)

// Backend abstracts the one SQL driver difference the checkpointer cares
// about: placeholder syntax. Everything else — schema, queries, migration
// logic — is shared between backends.
type Backend interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)

	// Placeholder returns the parameter placeholder for the nth (1-based)
	// bound argument in a query: "?" for SQLite, "$n" for PostgreSQL.
	Placeholder(n int) string

	// Dialect names the backend for migration bookkeeping and logging.
	Dialect() string

	Close() error
}
