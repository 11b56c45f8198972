package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresBackend is the multi-node Backend, used when several orchestrator
// processes share one thread's checkpoint history.
type PostgresBackend struct {
	db *sql.DB
}

// PostgresConfig tunes the connection pool. Zero values fall back to
// DefaultPostgresConfig.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig mirrors the pool sizing used elsewhere in this
// module for modestly loaded services.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// OpenPostgres opens a connection pool against dsn and verifies
// connectivity before returning.
func OpenPostgres(dsn string, cfg PostgresConfig) (*PostgresBackend, error) {
	if cfg.MaxOpenConns == 0 {
		cfg = DefaultPostgresConfig()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("checkpoint: ping postgres: %w", err)
	}
	return &PostgresBackend{db: db}, nil
}

func (b *PostgresBackend) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return b.db.ExecContext(ctx, query, args...)
}

func (b *PostgresBackend) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return b.db.QueryContext(ctx, query, args...)
}

func (b *PostgresBackend) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return b.db.QueryRowContext(ctx, query, args...)
}

func (b *PostgresBackend) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return b.db.BeginTx(ctx, opts)
}

func (b *PostgresBackend) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (b *PostgresBackend) Dialect() string { return "postgres" }

func (b *PostgresBackend) Close() error { return b.db.Close() }
