// SPDX-License-Identifier: MIT

// Package ratelimit implements the shared, durable rate limiter that
// coordinates upstream API budgets across worker processes. State lives
// in one row per key so every worker sees the same window; decisions
// fail open when the store is unreachable, preferring availability over
// strictness.
package ratelimit

import (
	"context"
	"time"

	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/metrics"
)

// Result is the outcome of one consume attempt.
type Result struct {
	Allowed   bool
	Count     int
	WindowEnd time.Time
}

// Capacity reports how much of a window is left.
type Capacity struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// Row is the persisted state of one key.
type Row struct {
	Key         string
	Count       int
	WindowEnd   time.Time
	MaxRequests int
	UpdatedAt   time.Time
}

// Store persists per-key windows. Consume must be atomic under
// concurrent callers: reset the window when expired, increment while
// below max, deny otherwise. Reset saturates the key until windowEnd.
type Store interface {
	Consume(ctx context.Context, key string, maxRequests int, window time.Duration) (Result, error)
	Reset(ctx context.Context, key string, windowEnd time.Time) error
	Get(ctx context.Context, key string) (*Row, error)
}

// maxBackoffExponent caps the progressive window extension at 2^5.
const maxBackoffExponent = 5

// Limiter wraps a Store with the pipeline's decision policy.
type Limiter struct {
	store Store
	clk   clock.Clock
}

// New returns a Limiter over store. A nil clk means the system clock.
func New(store Store, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.System()
	}
	return &Limiter{store: store, clk: clk}
}

// CanProceed consumes one request from the key's window and reports
// whether the caller may continue. retryCount > 0 widens the window by
// 2^min(retryCount,5) so repeated retries back off progressively. Any
// storage error logs and allows.
func (l *Limiter) CanProceed(ctx context.Context, key string, maxRequests int, window time.Duration, retryCount int) bool {
	adjusted := window
	if retryCount > 0 {
		exp := retryCount
		if exp > maxBackoffExponent {
			exp = maxBackoffExponent
		}
		adjusted = window * (1 << exp)
	}

	res, err := l.store.Consume(ctx, key, maxRequests, adjusted)
	if err != nil {
		logger := log.WithComponent("ratelimit")
		logger.Error().
			Err(err).
			Str("key", key).
			Msg("rate limit store unavailable, failing open")
		metrics.RecordRateLimitDecision(key, "error")
		return true
	}

	if !res.Allowed {
		logger := log.WithComponent("ratelimit")
		logger.Warn().
			Str("key", key).
			Int("count", res.Count).
			Int("max_requests", maxRequests).
			Time("window_end", res.WindowEnd).
			Msg("rate limit exceeded")
		metrics.RecordRateLimitDecision(key, "denied")
		return false
	}

	metrics.RecordRateLimitDecision(key, "allowed")
	return true
}

// Reset parks the key until windowEnd. Called when an upstream answers
// 429 with Retry-After: the shared window must block every worker, not
// just the one that saw the response.
func (l *Limiter) Reset(ctx context.Context, key string, windowEnd time.Time) error {
	if err := l.store.Reset(ctx, key, windowEnd); err != nil {
		return err
	}
	logger := log.WithComponent("ratelimit")
	logger.Info().
		Str("key", key).
		Time("window_end", windowEnd).
		Msg("rate limit window reset by upstream")
	metrics.RecordRateLimitReset(key)
	return nil
}

// Remaining reports the unused capacity of the key's current window.
// Unknown keys return nil.
func (l *Limiter) Remaining(ctx context.Context, key string) (*Capacity, error) {
	row, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	remaining := row.MaxRequests - row.Count
	if remaining < 0 {
		remaining = 0
	}
	if !row.WindowEnd.After(l.clk.Now()) {
		// Window already over: full capacity on the next consume.
		remaining = row.MaxRequests
	}
	return &Capacity{Remaining: remaining, ResetAt: row.WindowEnd}, nil
}
