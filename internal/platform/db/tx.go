package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Serialization failures under RepeatableRead are transient: two payment
// applications or a close and a scan touching the same rows can abort one
// another, and the loser is safe to rerun.
const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
	txRetries            = 3
)

// WithTx executes a function within a RepeatableRead transaction, retrying a
// bounded number of times on serialization failures. Every engine mutation
// runs through here so its writes become visible together or not at all; fn
// must therefore be safe to re-execute from the start.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < txRetries; attempt++ {
		lastErr = runTx(ctx, pool, fn)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("platform/db: tx retries exhausted: %w", lastErr)
}

func runTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == serializationFailure || pgErr.Code == deadlockDetected
}
