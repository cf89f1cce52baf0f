// SPDX-License-Identifier: MIT

// Package resilience provides the durable circuit breakers guarding
// every upstream call and queue handler. Breaker state can be persisted
// so concurrent workers share trip decisions, and reset timeouts follow
// upstream Retry-After hints.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/metrics"
)

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// ErrCircuitOpen is wrapped into every fail-fast rejection.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// maxRetryAfterReset caps how far an upstream Retry-After can push the
// reset timeout.
const maxRetryAfterReset = 2 * time.Minute

// Settings configures one breaker.
type Settings struct {
	Name string
	// Consecutive failures that trip a closed breaker.
	FailureThreshold int
	// How long an open breaker waits before probing.
	ResetTimeout time.Duration
	// Successful probes required to close a half-open breaker.
	HalfOpenSuccessThreshold int
	// Minimum spacing between half-open probes.
	ProbeInterval time.Duration
}

func (s *Settings) applyDefaults() {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if s.HalfOpenSuccessThreshold <= 0 {
		s.HalfOpenSuccessThreshold = 1
	}
	if s.ProbeInterval <= 0 {
		s.ProbeInterval = 10 * time.Second
	}
}

// SettingsFor returns the per-name defaults. Rate-limit circuits trip on
// the first failure and stay open longer; token-refresh circuits park
// for an hour because a failing refresh poisons every dependent call.
func SettingsFor(name string) Settings {
	s := Settings{Name: name}
	switch {
	case strings.HasPrefix(name, "ratelimit:"):
		s.FailureThreshold = 1
		s.ResetTimeout = 5 * time.Minute
	case strings.HasPrefix(name, "token:"):
		s.ResetTimeout = time.Hour
	}
	s.applyDefaults()
	return s
}

// Breaker is a three-state circuit breaker. All decisions run under the
// mutex; the optional StateStore is consulted before each decision and
// written after each change so workers sharing a name share the state.
type Breaker struct {
	mu       sync.Mutex
	settings Settings
	clk      clock.Clock
	store    StateStore

	state                 State
	failureCount          int
	successCount          int
	lastFailureAt         time.Time
	lastStateChange       time.Time
	lastProbeAt           time.Time
	effectiveResetTimeout time.Duration
}

// Option tweaks breaker construction.
type Option func(*Breaker)

// WithClock substitutes the time source.
func WithClock(clk clock.Clock) Option {
	return func(b *Breaker) { b.clk = clk }
}

// WithStateStore persists state transitions and counters.
func WithStateStore(store StateStore) Option {
	return func(b *Breaker) { b.store = store }
}

// NewBreaker builds a breaker from settings.
func NewBreaker(settings Settings, opts ...Option) *Breaker {
	settings.applyDefaults()
	b := &Breaker{
		settings:              settings,
		clk:                   clock.System(),
		state:                 StateClosed,
		lastStateChange:       time.Time{},
		effectiveResetTimeout: settings.ResetTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.SetCircuitBreakerState(settings.Name, string(StateClosed))
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.settings.Name }

// Fire runs action under the breaker. An open breaker rejects without
// calling action; the rejection carries the transient category so queue
// workers leave the message leased for a later delivery. A failure that
// carries a Retry-After hint stretches the reset timeout up to two
// minutes.
func (b *Breaker) Fire(ctx context.Context, action func(context.Context) error) error {
	if err := b.allow(ctx); err != nil {
		return err
	}

	err := action(ctx)
	if err != nil {
		if after, ok := errcat.RetryAfterOf(err); ok {
			b.noteRetryAfter(after)
		}
		b.handleFailure(ctx, err.Error())
		return err
	}

	b.handleSuccess(ctx)
	return nil
}

// RecordHTTPFailure feeds an HTTP response observed outside Fire into
// the breaker. A 429 Retry-After (seconds or HTTP-date) raises the
// effective reset timeout before the failure is counted.
func (b *Breaker) RecordHTTPFailure(ctx context.Context, status int, retryAfter string) {
	if status == 429 && retryAfter != "" {
		if d, ok := errcat.ParseRetryAfter(retryAfter, b.clk.Now()); ok {
			b.noteRetryAfter(d)
		}
	}
	b.handleFailure(ctx, fmt.Sprintf("upstream status %d", status))
}

// State reports the current position after a storage sync.
func (b *Breaker) State(ctx context.Context) State {
	b.syncFromStore(ctx)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current persisted view of the breaker.
func (b *Breaker) Snapshot() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset(ctx context.Context) {
	b.mu.Lock()
	prev := b.state
	b.failureCount = 0
	b.successCount = 0
	b.effectiveResetTimeout = b.settings.ResetTimeout
	changed := b.transitionLocked(StateClosed)
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.persist(ctx, snap)
	if changed {
		b.appendEvent(ctx, prev, StateClosed, "manual_reset")
	}
}

func (b *Breaker) allow(ctx context.Context) error {
	b.syncFromStore(ctx)

	b.mu.Lock()
	now := b.clk.Now()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil

	case StateOpen:
		if now.Sub(b.lastFailureAt) > b.effectiveResetTimeout {
			from := b.state
			b.transitionLocked(StateHalfOpen)
			b.successCount = 0
			b.lastProbeAt = now
			snap := b.snapshotLocked()
			b.mu.Unlock()

			b.persist(ctx, snap)
			b.appendEvent(ctx, from, StateHalfOpen, "reset_timeout_elapsed")
			return nil
		}
		until := b.lastFailureAt.Add(b.effectiveResetTimeout)
		b.mu.Unlock()
		return errcat.Wrap(errcat.Transient, ErrCircuitOpen,
			fmt.Sprintf("%s open until %s", b.settings.Name, until.UTC().Format(time.RFC3339)))

	default: // StateHalfOpen
		if now.Sub(b.lastProbeAt) < b.settings.ProbeInterval {
			b.mu.Unlock()
			return errcat.Wrap(errcat.Transient, ErrCircuitOpen,
				fmt.Sprintf("%s half-open, probe throttled", b.settings.Name))
		}
		b.lastProbeAt = now
		b.mu.Unlock()
		return nil
	}
}

func (b *Breaker) handleSuccess(ctx context.Context) {
	b.mu.Lock()
	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount < b.settings.HalfOpenSuccessThreshold {
			snap := b.snapshotLocked()
			b.mu.Unlock()
			b.persist(ctx, snap)
			return
		}
		b.failureCount = 0
		b.successCount = 0
		b.effectiveResetTimeout = b.settings.ResetTimeout
		b.transitionLocked(StateClosed)
		snap := b.snapshotLocked()
		b.mu.Unlock()

		b.persist(ctx, snap)
		b.appendEvent(ctx, StateHalfOpen, StateClosed, "probe_succeeded")

	default:
		if b.failureCount == 0 {
			b.mu.Unlock()
			return
		}
		b.failureCount = 0
		snap := b.snapshotLocked()
		b.mu.Unlock()
		b.persist(ctx, snap)
	}
}

func (b *Breaker) handleFailure(ctx context.Context, reason string) {
	b.mu.Lock()
	b.failureCount++
	b.lastFailureAt = b.clk.Now()

	var from State
	tripped := false
	switch {
	case b.state == StateHalfOpen:
		from = StateHalfOpen
		b.successCount = 0
		b.transitionLocked(StateOpen)
		tripped = true
		metrics.RecordCircuitBreakerTrip(b.settings.Name, "half_open_failure")
	case b.state == StateClosed && b.failureCount >= b.settings.FailureThreshold:
		from = StateClosed
		b.transitionLocked(StateOpen)
		tripped = true
		metrics.RecordCircuitBreakerTrip(b.settings.Name, "threshold_exceeded")
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()

	b.persist(ctx, snap)
	if tripped {
		logger := log.WithComponent("resilience")
		logger.Warn().
			Str("breaker", b.settings.Name).
			Str("reason", reason).
			Int("failure_count", snap.FailureCount).
			Msg("circuit breaker opened")
		b.appendEvent(ctx, from, StateOpen, reason)
	}
}

func (b *Breaker) noteRetryAfter(d time.Duration) {
	if d <= 0 {
		return
	}
	if d > maxRetryAfterReset {
		d = maxRetryAfterReset
	}
	b.mu.Lock()
	if d > b.effectiveResetTimeout {
		b.effectiveResetTimeout = d
	}
	b.mu.Unlock()
}

// syncFromStore adopts the persisted state so that a trip recorded by
// another worker is honored here. Storage errors only log: a breaker
// must never fail a request because its bookkeeping is unreachable.
func (b *Breaker) syncFromStore(ctx context.Context) {
	if b.store == nil {
		return
	}
	persisted, err := b.store.Load(ctx, b.settings.Name)
	if err != nil {
		logger := log.WithComponent("resilience")
		logger.Error().
			Err(err).
			Str("breaker", b.settings.Name).
			Msg("loading breaker state failed")
		return
	}
	if persisted == nil {
		return
	}

	b.mu.Lock()
	if persisted.LastStateChange.After(b.lastStateChange) ||
		(b.state == persisted.State && persisted.FailureCount != b.failureCount) {
		if b.state != persisted.State {
			metrics.SetCircuitBreakerState(b.settings.Name, string(persisted.State))
		}
		b.state = persisted.State
		b.failureCount = persisted.FailureCount
		b.successCount = persisted.SuccessCount
		b.lastFailureAt = persisted.LastFailureAt
		b.lastStateChange = persisted.LastStateChange
		if persisted.ResetTimeoutMS > 0 {
			b.effectiveResetTimeout = time.Duration(persisted.ResetTimeoutMS) * time.Millisecond
		}
	}
	b.mu.Unlock()
}

func (b *Breaker) persist(ctx context.Context, snap BreakerState) {
	if b.store == nil {
		return
	}
	if err := b.store.Save(ctx, snap); err != nil {
		logger := log.WithComponent("resilience")
		logger.Error().
			Err(err).
			Str("breaker", b.settings.Name).
			Msg("persisting breaker state failed")
	}
}

func (b *Breaker) appendEvent(ctx context.Context, from, to State, reason string) {
	if b.store == nil {
		return
	}
	if err := b.store.AppendEvent(ctx, b.settings.Name, from, to, reason); err != nil {
		logger := log.WithComponent("resilience")
		logger.Error().
			Err(err).
			Str("breaker", b.settings.Name).
			Msg("appending breaker event failed")
	}
}

// transitionLocked moves to newState, reporting whether it changed.
// Caller holds the mutex.
func (b *Breaker) transitionLocked(newState State) bool {
	if b.state == newState {
		return false
	}
	b.state = newState
	b.lastStateChange = b.clk.Now()
	metrics.SetCircuitBreakerState(b.settings.Name, string(newState))
	return true
}

// snapshotLocked builds the persistable view. Caller holds the mutex.
func (b *Breaker) snapshotLocked() BreakerState {
	return BreakerState{
		Name:             b.settings.Name,
		State:            b.state,
		FailureCount:     b.failureCount,
		SuccessCount:     b.successCount,
		LastFailureAt:    b.lastFailureAt,
		LastStateChange:  b.lastStateChange,
		FailureThreshold: b.settings.FailureThreshold,
		ResetTimeoutMS:   b.effectiveResetTimeout.Milliseconds(),
	}
}
