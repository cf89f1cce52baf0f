// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/crateworks/linernotes/internal/errcat"
)

func pgError(code string) error {
	return fmt.Errorf("query failed: %w", &pgconn.PgError{Code: code, Message: "boom"})
}

func TestClassifiers(t *testing.T) {
	assert.True(t, IsUniqueViolation(pgError("23505")))
	assert.False(t, IsUniqueViolation(pgError("23503")))

	assert.True(t, IsSerializationFailure(pgError("40001")))
	assert.True(t, IsDeadlock(pgError("40P01")))

	assert.True(t, IsConnectionError(pgError("08006")))
	assert.True(t, IsConnectionError(io.EOF))
	assert.True(t, IsConnectionError(errors.New("dial tcp: connection refused")))
	assert.False(t, IsConnectionError(pgError("23505")))
	assert.False(t, IsConnectionError(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(pgError("23505")))
	assert.True(t, IsRetryable(pgError("40001")))
	assert.True(t, IsRetryable(pgError("40P01")))
	assert.True(t, IsRetryable(pgError("08000")))

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(pgError("23514")), "check violations are permanent")
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
}

func TestCategorize(t *testing.T) {
	assert.NoError(t, Categorize(nil, "insert"))

	// A constraint the upserts could not absorb is permanent.
	err := Categorize(pgError("23514"), "insert artist")
	assert.Equal(t, errcat.Database, errcat.CategoryOf(err))
	assert.False(t, errcat.IsRetryable(err))

	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr), "wrapping keeps the driver error reachable")

	// Connection-class faults and replayable conflicts keep retrying.
	for _, tc := range []struct {
		err  error
		want errcat.Category
	}{
		{pgError("08006"), errcat.Connection},
		{context.Canceled, errcat.Connection},
		{io.EOF, errcat.Connection},
		{pgError("40001"), errcat.Transient},
		{pgError("40P01"), errcat.Transient},
		{context.DeadlineExceeded, errcat.Timeout},
	} {
		got := Categorize(tc.err, "query")
		assert.Equal(t, tc.want, errcat.CategoryOf(got), "categorizing %v", tc.err)
		assert.True(t, errcat.IsRetryable(got), "%v must stay retryable", tc.err)
	}
}
