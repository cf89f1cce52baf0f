// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/crateworks/linernotes/internal/clock"
)

// MemoryStore is an in-process Store with the same window semantics as
// the Postgres implementation. Time comes from an injected clock so
// tests can cross window boundaries deterministically.
type MemoryStore struct {
	clk clock.Clock

	mu   sync.Mutex
	rows map[string]*memRow

	// FailWith, when set, is returned by every call. Lets tests cover
	// the fail-open path.
	FailWith error
}

type memRow struct {
	count       int
	windowEnd   time.Time
	maxRequests int
	updatedAt   time.Time
}

// NewMemoryStore returns an empty MemoryStore on clk.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.System()
	}
	return &MemoryStore{clk: clk, rows: make(map[string]*memRow)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Consume(_ context.Context, key string, maxRequests int, window time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return Result{}, s.FailWith
	}

	now := s.clk.Now()
	row, ok := s.rows[key]
	switch {
	case !ok || !row.windowEnd.After(now):
		row = &memRow{count: 1, windowEnd: now.Add(window), maxRequests: maxRequests, updatedAt: now}
		s.rows[key] = row
		return Result{Allowed: true, Count: 1, WindowEnd: row.windowEnd}, nil
	case row.count < maxRequests:
		row.count++
		row.maxRequests = maxRequests
		row.updatedAt = now
		return Result{Allowed: true, Count: row.count, WindowEnd: row.windowEnd}, nil
	default:
		return Result{Allowed: false, Count: row.count, WindowEnd: row.windowEnd}, nil
	}
}

func (s *MemoryStore) Reset(_ context.Context, key string, windowEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}

	now := s.clk.Now()
	row, ok := s.rows[key]
	if !ok {
		s.rows[key] = &memRow{count: saturatedCount, windowEnd: windowEnd, updatedAt: now}
		return nil
	}
	if row.maxRequests > 0 && row.count < row.maxRequests {
		row.count = row.maxRequests
	} else if row.maxRequests == 0 {
		row.count = saturatedCount
	}
	row.windowEnd = windowEnd
	row.updatedAt = now
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}

	row, ok := s.rows[key]
	if !ok {
		return nil, nil
	}
	return &Row{
		Key:         key,
		Count:       row.count,
		WindowEnd:   row.windowEnd,
		MaxRequests: row.maxRequests,
		UpdatedAt:   row.updatedAt,
	}, nil
}
