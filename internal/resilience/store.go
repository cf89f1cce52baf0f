// SPDX-License-Identifier: MIT

package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crateworks/linernotes/internal/store"
)

// BreakerState is the persisted snapshot of one breaker.
type BreakerState struct {
	Name             string
	State            State
	FailureCount     int
	SuccessCount     int
	LastFailureAt    time.Time
	LastStateChange  time.Time
	FailureThreshold int
	ResetTimeoutMS   int64
}

// StateStore persists breaker snapshots and the transition event log.
// Load returns nil when the breaker has no row yet.
type StateStore interface {
	Load(ctx context.Context, name string) (*BreakerState, error)
	Save(ctx context.Context, state BreakerState) error
	AppendEvent(ctx context.Context, name string, from, to State, reason string) error
	ResetPrefix(ctx context.Context, prefix string) (int, error)
}

// PGStateStore keeps breaker state in the circuit_breakers table.
type PGStateStore struct {
	pool *pgxpool.Pool
}

// NewPGStateStore returns a PGStateStore backed by pool.
func NewPGStateStore(pool *pgxpool.Pool) *PGStateStore {
	return &PGStateStore{pool: pool}
}

var _ StateStore = (*PGStateStore)(nil)

func (s *PGStateStore) Load(ctx context.Context, name string) (*BreakerState, error) {
	var st BreakerState
	var lastFailure, lastChange *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT name, state, failure_count, success_count,
		       last_failure_at, last_state_change, failure_threshold, reset_timeout_ms
		FROM circuit_breakers WHERE name = $1`, name).
		Scan(&st.Name, &st.State, &st.FailureCount, &st.SuccessCount,
			&lastFailure, &lastChange, &st.FailureThreshold, &st.ResetTimeoutMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Categorize(err, "load breaker "+name)
	}
	if lastFailure != nil {
		st.LastFailureAt = *lastFailure
	}
	if lastChange != nil {
		st.LastStateChange = *lastChange
	}
	return &st, nil
}

func (s *PGStateStore) Save(ctx context.Context, state BreakerState) error {
	var lastFailure, lastChange *time.Time
	if !state.LastFailureAt.IsZero() {
		lastFailure = &state.LastFailureAt
	}
	if !state.LastStateChange.IsZero() {
		lastChange = &state.LastStateChange
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO circuit_breakers
			(name, state, failure_count, success_count, last_failure_at,
			 last_state_change, failure_threshold, reset_timeout_ms, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (name) DO UPDATE SET
			state             = EXCLUDED.state,
			failure_count     = EXCLUDED.failure_count,
			success_count     = EXCLUDED.success_count,
			last_failure_at   = EXCLUDED.last_failure_at,
			last_state_change = EXCLUDED.last_state_change,
			failure_threshold = EXCLUDED.failure_threshold,
			reset_timeout_ms  = EXCLUDED.reset_timeout_ms,
			updated_at        = now()`,
		state.Name, string(state.State), state.FailureCount, state.SuccessCount,
		lastFailure, lastChange,
		state.FailureThreshold, state.ResetTimeoutMS)
	return store.Categorize(err, "save breaker "+state.Name)
}

func (s *PGStateStore) AppendEvent(ctx context.Context, name string, from, to State, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO circuit_breaker_events (name, from_state, to_state, reason)
		VALUES ($1, $2, $3, $4)`,
		name, string(from), string(to), reason)
	return store.Categorize(err, "append breaker event "+name)
}

func (s *PGStateStore) ResetPrefix(ctx context.Context, prefix string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE circuit_breakers
		SET state = 'closed', failure_count = 0, success_count = 0,
		    last_state_change = now(), updated_at = now()
		WHERE name LIKE $1 || '%'`, prefix)
	if err != nil {
		return 0, store.Categorize(err, "reset breakers with prefix "+prefix)
	}
	return int(tag.RowsAffected()), nil
}

// MemoryStateStore is an in-process StateStore for tests.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]BreakerState
	Events []BreakerEvent

	// FailWith, when set, is returned by every call.
	FailWith error
}

// BreakerEvent is one recorded transition.
type BreakerEvent struct {
	Name   string
	From   State
	To     State
	Reason string
}

// NewMemoryStateStore returns an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]BreakerState)}
}

var _ StateStore = (*MemoryStateStore)(nil)

func (s *MemoryStateStore) Load(_ context.Context, name string) (*BreakerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	st, ok := s.states[name]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *MemoryStateStore) Save(_ context.Context, state BreakerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.states[state.Name] = state
	return nil
}

func (s *MemoryStateStore) AppendEvent(_ context.Context, name string, from, to State, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	s.Events = append(s.Events, BreakerEvent{Name: name, From: from, To: to, Reason: reason})
	return nil
}

func (s *MemoryStateStore) ResetPrefix(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return 0, s.FailWith
	}
	n := 0
	for name, st := range s.states {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			st.State = StateClosed
			st.FailureCount = 0
			st.SuccessCount = 0
			s.states[name] = st
			n++
		}
	}
	return n, nil
}
