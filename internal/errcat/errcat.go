// SPDX-License-Identifier: MIT

// Package errcat defines the canonical error taxonomy used across the
// pipeline: every failure that reaches a worker, the retry helper or the
// dead-letter queue is classified into exactly one Category. The category
// decides retryability and shows up verbatim in dead-letter rows, metrics
// and logs.
package errcat

import (
	"errors"
	"fmt"
	"time"
)

// Category is a stable, lowercase identifier for a failure class.
type Category string

const (
	Validation    Category = "validation"
	MissingRecord Category = "missing_record"
	Authorization Category = "authorization"
	NotFound      Category = "not_found"
	RateLimit     Category = "rate_limit"
	Timeout       Category = "timeout"
	Network       Category = "network"
	Connection    Category = "connection"
	Transient     Category = "transient"
	ServerError   Category = "server_error"
	Database      Category = "database_error"
	Unknown       Category = "unknown"
)

// Retryable reports whether a failure of this category may succeed on a
// later attempt. Database counts as permanent: connection-class faults are
// categorized as Connection before they get here, so what carries Database
// is a statement that will fail the same way on every delivery. Unknown
// deliberately counts as retryable: misclassifying a transient fault as
// permanent loses work, the reverse only costs a few extra attempts.
func (c Category) Retryable() bool {
	switch c {
	case Validation, MissingRecord, Authorization, NotFound, Database:
		return false
	default:
		return true
	}
}

// Error attaches a Category and optional HTTP metadata to an underlying
// error. It is the single error type the retry and worker layers inspect.
type Error struct {
	Category   Category
	Message    string
	Status     int           // HTTP status of the upstream response, 0 if none
	RetryAfter time.Duration // server-requested wait, 0 if none
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Category, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	default:
		return string(e.Category)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a categorized error with a static message.
func New(cat Category, msg string) *Error {
	return &Error{Category: cat, Message: msg}
}

// Newf builds a categorized error with a formatted message.
func Newf(cat Category, format string, args ...any) *Error {
	return &Error{Category: cat, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a category, preserving the chain for errors.Is/As.
func Wrap(cat Category, err error, msg string) *Error {
	return &Error{Category: cat, Message: msg, Err: err}
}

// FromStatus maps an upstream HTTP status code onto the taxonomy.
func FromStatus(status int) Category {
	switch {
	case status == 401 || status == 403:
		return Authorization
	case status == 404:
		return NotFound
	case status == 408 || status == 425:
		return Timeout
	case status == 429:
		return RateLimit
	case status >= 400 && status < 500:
		return Validation
	case status >= 500:
		return ServerError
	default:
		return Unknown
	}
}

// CategoryOf returns the category recorded on err, or classifies it when
// the chain carries no *Error.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Category
	}
	return Classify(err)
}

// IsRetryable reports whether err may be retried per its category.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return CategoryOf(err).Retryable()
}

// RetryAfterOf extracts a server-requested wait from the error chain.
func RetryAfterOf(err error) (time.Duration, bool) {
	var ce *Error
	if errors.As(err, &ce) && ce.RetryAfter > 0 {
		return ce.RetryAfter, true
	}
	return 0, false
}

// StatusOf extracts the upstream HTTP status from the error chain, 0 if none.
func StatusOf(err error) int {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Status
	}
	return 0
}
