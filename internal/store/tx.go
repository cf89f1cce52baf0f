// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crateworks/linernotes/internal/log"
)

// maxRetryAttempts bounds WithRetry. The third attempt is the last.
const maxRetryAttempts = 3

// WithTx runs fn inside a transaction. The transaction is rolled back on
// error or panic and committed otherwise.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store: context done before transaction: %w", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	done := false
	defer func() {
		if !done {
			// Rollback the panic path; the error path handles its own.
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		done = true
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("store: %w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	done = true
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

// WithRetry replays fn up to three times when it fails with a retryable
// database error (unique-violation race, serialization failure, deadlock,
// lost connection). Non-retryable errors return immediately.
func WithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.Multiplier = 2
	bo.MaxInterval = time.Second
	bo.Reset()

	var err error
	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == maxRetryAttempts {
			break
		}

		wait := bo.NextBackOff()
		logger := log.Base()
		logger.Debug().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("retrying database operation")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("store: giving up after %d attempts: %w", maxRetryAttempts, err)
}
