package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const pingTimeout = 5 * time.Second

var (
	// ErrNoDatabaseConnection is returned when a store is constructed with a nil connection.
	ErrNoDatabaseConnection = errors.New("database connection is required")
)

// Connection wraps *sql.DB with configured pooling and a per-operation timeout.
// All stores in this package share one Connection; the pool is safe for
// concurrent use by multiple worker goroutines.
type Connection struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// NewConnection opens a pooled PostgreSQL connection and verifies it with a ping.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	queryTimeout := cfg.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}

	return &Connection{db: db, queryTimeout: queryTimeout}, nil
}

// NewConnectionFromDB wraps an already-open *sql.DB. Used by integration
// tests that manage the database lifecycle themselves.
func NewConnectionFromDB(db *sql.DB, queryTimeout time.Duration) *Connection {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}

	return &Connection{db: db, queryTimeout: queryTimeout}
}

// OperationContext derives the bounded context stores apply at operation
// boundaries. The store read/write path must never block indefinitely; a
// deadline expiry surfaces as a retryable failure upstream. The caller must
// cancel after the operation (including row iteration) is finished.
func (c *Connection) OperationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.queryTimeout)
}

// QueryContext runs a query against the pool.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...) //nolint:sqlclosecheck // rows are closed by the caller
}

// QueryRowContext runs a single-row query against the pool.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// ExecContext runs a statement against the pool.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction. The caller owns commit/rollback.
func (c *Connection) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, nil)
}

// Ping verifies database connectivity, for health checks.
func (c *Connection) Ping(ctx context.Context) error {
	ctx, cancel := c.OperationContext(ctx)
	defer cancel()

	return c.db.PingContext(ctx)
}

// Close closes the underlying connection pool. Safe to call multiple times.
func (c *Connection) Close() error {
	if c.db == nil {
		return nil
	}

	return c.db.Close()
}
