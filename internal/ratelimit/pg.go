// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crateworks/linernotes/internal/store"
)

// saturatedCount marks a key parked by Reset when no earlier consume
// recorded its real maximum.
const saturatedCount = 1 << 30

// PGStore keeps windows in the rate_limits table. The consume decision
// runs inside the rate_limit_consume SQL function (created by the
// migrations) so reset/increment/deny is one atomic round trip under
// row locking.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore returns a PGStore backed by pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var _ Store = (*PGStore)(nil)

func (s *PGStore) Consume(ctx context.Context, key string, maxRequests int, window time.Duration) (Result, error) {
	metadata := fmt.Sprintf(`{"maxRequests":%d}`, maxRequests)

	var res Result
	err := s.pool.QueryRow(ctx,
		`SELECT allowed, count, window_end
		 FROM rate_limit_consume($1, $2, make_interval(secs => $3), $4::jsonb)`,
		key, maxRequests, window.Seconds(), metadata).
		Scan(&res.Allowed, &res.Count, &res.WindowEnd)
	if err != nil {
		return Result{}, store.Categorize(err, "rate limit consume "+key)
	}
	return res, nil
}

func (s *PGStore) Reset(ctx context.Context, key string, windowEnd time.Time) error {
	// Saturate the count so the key stays blocked until the window
	// reopens, preferring the recorded maximum when one exists.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rate_limits (key, count, window_end, metadata, updated_at)
		VALUES ($1, $2, $3, '{}'::jsonb, now())
		ON CONFLICT (key) DO UPDATE SET
			count = GREATEST(rate_limits.count,
			                 coalesce((rate_limits.metadata->>'maxRequests')::int, $2)),
			window_end = $3,
			updated_at = now()`,
		key, saturatedCount, windowEnd)
	return store.Categorize(err, "rate limit reset "+key)
}

func (s *PGStore) Get(ctx context.Context, key string) (*Row, error) {
	var row Row
	var metadata []byte
	err := s.pool.QueryRow(ctx,
		`SELECT key, count, window_end, metadata, updated_at
		 FROM rate_limits WHERE key = $1`, key).
		Scan(&row.Key, &row.Count, &row.WindowEnd, &metadata, &row.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Categorize(err, "rate limit get "+key)
	}

	if len(metadata) > 0 {
		var meta struct {
			MaxRequests int `json:"maxRequests"`
		}
		if err := json.Unmarshal(metadata, &meta); err == nil {
			row.MaxRequests = meta.MaxRequests
		}
	}
	return &row, nil
}
