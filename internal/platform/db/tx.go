package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxOptions tunes WithTx.
type TxOptions struct {
	// Wait bounds connection acquisition plus the whole transaction.
	Wait time.Duration
	// Retries is the number of extra attempts after a serialization failure or deadlock.
	Retries int
}

// WithTx executes fn within a RepeatableRead transaction, retrying transient
// conflicts and classifying storage errors.
func WithTx(ctx context.Context, pool *pgxpool.Pool, opts TxOptions, fn func(context.Context, pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		err = runTx(ctx, pool, opts.Wait, fn)
		if err == nil || !Retryable(err) {
			break
		}
	}
	return Classify(err)
}

func runTx(ctx context.Context, pool *pgxpool.Pool, wait time.Duration, fn func(context.Context, pgx.Tx) error) error {
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}
