package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrTxAborted is returned when a nested scope rolled the transaction back
// and an enclosing scope later tries to use or commit it.
var ErrTxAborted = errors.New("transaction already rolled back")

// Querier is the query surface shared by the pool and an open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner opens transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

type txKey struct{}

// txState tracks one physical transaction shared by every nested scope.
type txState struct {
	tx      pgx.Tx
	depth   int
	aborted bool
}

func (s *txState) rollback(ctx context.Context) {
	if s.aborted {
		return
	}
	s.aborted = true
	s.depth = 0
	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.Error("transaction rollback failed", "error", err)
	}
}

// TxManager runs functions inside depth-counted transactions. Nested calls
// join the outermost transaction; only the outermost scope commits, and a
// failure at any depth rolls the whole transaction back.
type TxManager struct {
	db Beginner
}

// NewTxManager wraps a pool (or any Beginner).
func NewTxManager(db Beginner) *TxManager {
	return &TxManager{db: db}
}

// Querier returns the transaction bound to ctx, or the pool when there is none.
func (m *TxManager) Querier(ctx context.Context) Querier {
	if st, ok := ctx.Value(txKey{}).(*txState); ok && !st.aborted {
		return st.tx
	}
	return m.db
}

// Depth reports the transaction nesting depth bound to ctx (0 outside a transaction).
func Depth(ctx context.Context) int {
	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		return st.depth
	}
	return 0
}

// WithinTx runs fn inside a transaction. If ctx already carries one, fn joins
// it at depth+1 and nothing is committed when fn returns.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		return runNested(ctx, st, fn)
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	st := &txState{tx: tx, depth: 1}
	txCtx := context.WithValue(ctx, txKey{}, st)

	defer func() {
		if p := recover(); p != nil {
			st.rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		st.rollback(ctx)
		return err
	}
	if st.aborted {
		return ErrTxAborted
	}

	st.depth = 0
	if err := tx.Commit(ctx); err != nil {
		st.aborted = true
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func runNested(ctx context.Context, st *txState, fn func(ctx context.Context) error) error {
	if st.aborted {
		return ErrTxAborted
	}
	st.depth++

	defer func() {
		if p := recover(); p != nil {
			st.rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx); err != nil {
		st.rollback(ctx)
		return err
	}
	if st.aborted {
		return ErrTxAborted
	}
	st.depth--
	return nil
}
