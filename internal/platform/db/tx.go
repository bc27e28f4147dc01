package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner starts transactions. *pgxpool.Pool implements it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var _ Beginner = (*pgxpool.Pool)(nil)

// LedgerTxOptions is used by every workflow transaction. READ COMMITTED with
// explicit FOR UPDATE locks makes a blocked writer re-read the committed row,
// so a duplicate terminal transition observes the new status.
var LedgerTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// WithTx executes fn within a transaction. Any error from fn rolls back; the
// commit error, if any, is classified like every other store failure.
func WithTx(ctx context.Context, pool Beginner, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	if pool == nil {
		return fmt.Errorf("%w: platform/db: pool not initialised", errPersistence)
	}
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return Classify(fmt.Errorf("platform/db: begin tx: %w", err))
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// IsNoRows reports whether err is pgx.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
