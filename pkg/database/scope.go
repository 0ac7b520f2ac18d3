package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type contextKey string

// ErrNoScope is returned by repositories called without a scope in context.
var ErrNoScope = errors.New("no database scope in context")

// ScopeKey is the context key for the request's database connection.
const ScopeKey contextKey = "dbScope"

// Querier is the subset of pgx shared by pooled connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Scope wraps the connection repositories use for one unit of work.
type Scope struct {
	Conn    Querier
	inTx    bool
	release func()
}

// Close releases the connection back to the pool. Transaction scopes are
// owned by RunInTx and are not released here.
func (s *Scope) Close() {
	if s == nil || s.release == nil {
		return
	}
	s.release()
	s.release = nil
}

// InTx reports whether the scope is bound to a transaction.
func (s *Scope) InTx() bool {
	return s != nil && s.inTx
}

// GetScope retrieves the database scope from context.
// Returns nil and false if not present.
func GetScope(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(ScopeKey).(*Scope)
	return scope, ok && scope != nil
}

// SetScope stores the database scope in context.
func SetScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// NewScope wraps an arbitrary Querier. Used by tests and tools that manage
// their own connection lifetime.
func NewScope(conn Querier) *Scope {
	return &Scope{Conn: conn}
}

// TxRunner runs a function inside a database transaction.
// Services depend on this interface so tests can supply a pass-through.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Transactor runs transactions and takes locks scoped to them.
type Transactor interface {
	TxRunner
	// XactLock blocks until the lock on (namespace, key) is held by the
	// current transaction.
	XactLock(ctx context.Context, namespace, key string) error
}

// ScopeProvider hands out context-scoped connections for background work.
type ScopeProvider interface {
	WithScope(ctx context.Context) (context.Context, func(), error)
}

var (
	_ Transactor    = (*DB)(nil)
	_ ScopeProvider = (*DB)(nil)
)

// AdvisoryXactLock takes a transaction-scoped advisory lock keyed by the
// hash of key. It blocks until the lock is free and is released at commit
// or rollback. Must be called inside RunInTx.
func AdvisoryXactLock(ctx context.Context, namespace, key string) error {
	scope, ok := GetScope(ctx)
	if !ok {
		return ErrNoScope
	}
	_, err := scope.Conn.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))", namespace, key)
	return err
}

// XactLock implements Transactor with a Postgres advisory lock.
func (db *DB) XactLock(ctx context.Context, namespace, key string) error {
	scope, ok := GetScope(ctx)
	if !ok || !scope.InTx() {
		return errors.New("advisory lock requires a transaction")
	}
	return AdvisoryXactLock(ctx, namespace, key)
}
