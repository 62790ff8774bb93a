package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/noah-isme/revision-engine/pkg/errors"
)

// Executor is satisfied by both *sqlx.DB and *sqlx.Tx.
type Executor interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// TxRunner executes a unit of work atomically. Nested calls join the
// surrounding unit instead of opening a new one.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type scopeKey struct{}

// Scope is the unit of work carried by a context while a transaction is open.
type Scope struct {
	tx          *sqlx.Tx
	afterCommit []func(context.Context)
}

// NewScope attaches a unit of work to ctx. tx may be nil for stores that do
// not sit on a database connection.
func NewScope(ctx context.Context, tx *sqlx.Tx) (context.Context, *Scope) {
	scope := &Scope{tx: tx}
	return context.WithValue(ctx, scopeKey{}, scope), scope
}

// ScopeFrom returns the unit of work carried by ctx, if any.
func ScopeFrom(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	scope, _ := ctx.Value(scopeKey{}).(*Scope)
	return scope
}

// Committed runs the hooks registered through AfterCommit, in order.
func (s *Scope) Committed(ctx context.Context) {
	hooks := s.afterCommit
	s.afterCommit = nil
	for _, hook := range hooks {
		hook(ctx)
	}
}

// AfterCommit defers fn until the surrounding unit of work commits. Outside a
// unit of work fn runs immediately. Hooks are dropped on rollback.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	if scope := ScopeFrom(ctx); scope != nil {
		scope.afterCommit = append(scope.afterCommit, fn)
		return
	}
	fn(ctx)
}

// Conn returns the open transaction carried by ctx or falls back to db.
func Conn(ctx context.Context, db *sqlx.DB) Executor {
	if scope := ScopeFrom(ctx); scope != nil && scope.tx != nil {
		return scope.tx
	}
	return db
}

// SQLTxRunner opens one database transaction per unit of work.
type SQLTxRunner struct {
	db   *sqlx.DB
	opts *sql.TxOptions
}

// NewTxRunner constructs a runner using read-committed transactions.
func NewTxRunner(db *sqlx.DB) *SQLTxRunner {
	return &SQLTxRunner{db: db, opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted}}
}

// RunInTx implements TxRunner.
func (r *SQLTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ScopeFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := r.db.BeginTxx(ctx, r.opts)
	if err != nil {
		return appErrors.WrapAs(err, appErrors.ErrTransaction, "failed to begin transaction")
	}
	txCtx, scope := NewScope(ctx, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, appErrors.WrapAs(rbErr, appErrors.ErrTransaction, "failed to roll back transaction"))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return appErrors.WrapAs(err, appErrors.ErrTransaction, "failed to commit transaction")
	}

	scope.Committed(ctx)
	return nil
}
