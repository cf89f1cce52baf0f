// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupMiniRedis creates a test Redis server using miniredis.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cache := &RedisCache{
		client:      client,
		logger:      zerolog.Nop(),
		staleWindow: time.Hour,
	}

	return mr, cache
}

func TestRedisCache_SetGet(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	cache.Set("test-key", "test-value", 5*time.Minute)

	val, found := cache.Get("test-key")
	if !found {
		t.Fatal("expected value to be found")
	}
	if val != "test-value" {
		t.Errorf("expected 'test-value', got %v", val)
	}

	stats := cache.Stats()
	if stats.Hits != 1 || stats.Sets != 1 {
		t.Errorf("stats = %+v, want 1 hit and 1 set", stats)
	}
}

func TestRedisCache_GetMissing(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	_, found := cache.Get("missing")
	if found {
		t.Fatal("expected missing key")
	}
	if cache.Stats().Misses != 1 {
		t.Errorf("misses = %d, want 1", cache.Stats().Misses)
	}
}

func TestRedisCache_LogicalExpiryServesStale(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	// Logical TTL already in the past; the physical key still exists
	// because of the stale window.
	cache.Set("stale-key", "old-value", -time.Minute)

	if _, found := cache.Get("stale-key"); found {
		t.Fatal("Get must treat logically expired values as misses")
	}

	val, found, stale := cache.GetStale("stale-key")
	if !found || !stale {
		t.Fatalf("GetStale = (%v, %v, %v), want stale hit", val, found, stale)
	}
	if val != "old-value" {
		t.Errorf("stale value = %v", val)
	}
}

func TestRedisCache_PhysicalTTLCoversStaleWindow(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	cache.Set("k", "v", time.Minute)

	// After the logical TTL plus the stale window, Redis drops the key.
	mr.FastForward(time.Minute + time.Hour + time.Second)

	if _, found, _ := cache.GetStale("k"); found {
		t.Fatal("expected key to be physically gone")
	}
}

func TestRedisCache_Delete(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	cache.Set("goner", 1, time.Minute)
	cache.Delete("goner")

	if _, found := cache.Get("goner"); found {
		t.Fatal("expected key to be deleted")
	}
}

func TestRedisCache_DeleteByPrefix(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	cache.Set("search:one", 1, time.Minute)
	cache.Set("search:two", 2, time.Minute)
	cache.Set("artist:one", 3, time.Minute)

	n := cache.DeleteByPrefix("search:")
	if n != 2 {
		t.Errorf("DeleteByPrefix = %d, want 2", n)
	}
	if _, found := cache.Get("artist:one"); !found {
		t.Error("other namespace should be untouched")
	}
}

func TestRedisCache_ComplexData(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	doc := map[string]any{
		"id":        "123",
		"name":      "Radiohead",
		"followers": float64(1000000),
		"genres":    []any{"alternative rock", "art rock"},
	}
	cache.Set("artist:123", doc, time.Minute)

	val, found := cache.Get("artist:123")
	if !found {
		t.Fatal("expected value")
	}
	got, ok := val.(map[string]any)
	if !ok {
		t.Fatalf("value type = %T", val)
	}
	if got["name"] != "Radiohead" {
		t.Errorf("name = %v", got["name"])
	}
}

func TestRedisCache_HealthCheck(t *testing.T) {
	mr, cache := setupMiniRedis(t)
	defer mr.Close()

	if err := cache.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}

	mr.Close()
	if err := cache.HealthCheck(context.Background()); err == nil {
		t.Fatal("HealthCheck() after server close should fail")
	}
}
