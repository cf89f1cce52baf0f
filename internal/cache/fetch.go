// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/metrics"
)

// Namespace prefixes for the shared cache. One cache instance serves all
// upstream response types, disambiguated by key prefix.
const (
	NSSearch = "search:"
	NSSong   = "song:"
	NSArtist = "artist:"
	NSToken  = "token:"
)

// Key joins a namespace prefix and an identifier.
func Key(ns, id string) string { return ns + id }

// GetOrFetch returns the cached value for key if it is fresh, otherwise
// calls fetch under fetchTimeout and caches the result. When the fetch
// fails and a stale value is still held, the stale value is returned and
// the error is only logged.
func GetOrFetch[T any](ctx context.Context, c Cache, key string, ttl, fetchTimeout time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if decoded, err := decode[T](v); err == nil {
			metrics.RecordCacheLookup("hit")
			return decoded, nil
		}
		// Undecodable entries are treated as misses and overwritten below.
		c.Delete(key)
	}

	fetchCtx := ctx
	if fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, fetchTimeout)
		defer cancel()
	}

	fresh, err := fetch(fetchCtx)
	if err == nil {
		metrics.RecordCacheLookup("miss")
		c.Set(key, fresh, ttl)
		return fresh, nil
	}

	if v, ok, stale := c.GetStale(key); ok && stale {
		if decoded, decErr := decode[T](v); decErr == nil {
			metrics.RecordCacheLookup("stale_hit")
			logger := log.WithComponentFromContext(ctx, "cache")
			logger.Warn().
				Err(err).
				Str("key", key).
				Msg("fetch failed, serving stale cache entry")
			return decoded, nil
		}
	}

	var zero T
	return zero, err
}

// decode converts a cached value back to T. Values read from the redis
// backend come back as generic JSON types and need a round trip.
func decode[T any](v any) (T, error) {
	if typed, ok := v.(T); ok {
		return typed, nil
	}

	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("re-encoding cached value: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decoding cached value: %w", err)
	}
	return out, nil
}
