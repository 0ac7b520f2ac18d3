package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
}

// Config holds database connection configuration.
type Config struct {
	URL             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NewConnection creates a new database connection pool.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 25
	}

	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}

	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = time.Minute * 30
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// Acquire takes a pooled connection and wraps it in a Scope.
// The returned Scope MUST be closed with defer scope.Close().
func (db *DB) Acquire(ctx context.Context) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Scope{Conn: conn, release: conn.Release}, nil
}

// WithScope returns a context carrying a pooled connection.
// The cleanup function must be called when the scope is no longer needed.
func (db *DB) WithScope(ctx context.Context) (context.Context, func(), error) {
	scope, err := db.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return SetScope(ctx, scope), scope.Close, nil
}

// RunInTx runs fn inside a transaction. The transaction replaces the scope
// connection in the context passed to fn, so repositories called by fn
// participate in it. Nested calls reuse the outer transaction.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if scope, ok := GetScope(ctx); ok && scope.inTx {
		return fn(ctx)
	}

	var beginner interface {
		Begin(ctx context.Context) (pgx.Tx, error)
	} = db.Pool
	if scope, ok := GetScope(ctx); ok {
		if b, ok := scope.Conn.(interface {
			Begin(ctx context.Context) (pgx.Tx, error)
		}); ok {
			beginner = b
		}
	}

	return pgx.BeginFunc(ctx, beginner, func(tx pgx.Tx) error {
		return fn(SetScope(ctx, &Scope{Conn: tx, inTx: true}))
	})
}
