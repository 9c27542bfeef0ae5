package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxRunner executes fn inside one database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
}

type pgTxRunner struct {
	db   Beginner
	opts pgx.TxOptions
}

// NewTxRunner returns a runner using READ COMMITTED, which together with
// advisory and row locks is what the booking and webhook paths rely on.
func NewTxRunner(db Beginner) TxRunner {
	return &pgTxRunner{db: db, opts: pgx.TxOptions{IsoLevel: pgx.ReadCommitted}}
}

func (r *pgTxRunner) InTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	tx, err := r.db.BeginTx(ctx, r.opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
