// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/crateworks/linernotes/internal/errcat"
)

// Postgres error codes the retry layer reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	classConnectionException = "08"
)

// IsUniqueViolation reports whether err is a unique-constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// IsSerializationFailure reports whether err is a serializable-isolation
// conflict.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeSerializationFailure
}

// IsDeadlock reports whether err is a deadlock abort.
func IsDeadlock(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeDeadlockDetected
}

// IsConnectionError reports whether err looks like a lost or refused
// connection rather than a statement-level failure.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, classConnectionException) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "conn closed")
}

// IsRetryable reports whether a statement may succeed when replayed:
// unique-violation races, serialization failures, deadlocks and
// connection-level faults.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return IsUniqueViolation(err) ||
		IsSerializationFailure(err) ||
		IsDeadlock(err) ||
		IsConnectionError(err)
}

// Categorize wraps a database error with the taxonomy category the worker
// layer acts on. Connection faults and cancellations retry, serialization
// conflicts and deadlocks replay as transient, statement deadlines are
// timeouts. What remains is a real statement failure: an integrity
// violation the upserts could not absorb, a bad query, a missing table.
// Those are database_error and park in the dead letter store.
func Categorize(err error, msg string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errcat.Wrap(errcat.Timeout, err, msg)
	case errors.Is(err, context.Canceled), IsConnectionError(err):
		return errcat.Wrap(errcat.Connection, err, msg)
	case IsSerializationFailure(err), IsDeadlock(err):
		return errcat.Wrap(errcat.Transient, err, msg)
	default:
		return errcat.Wrap(errcat.Database, err, msg)
	}
}
