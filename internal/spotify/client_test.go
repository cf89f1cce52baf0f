// SPDX-License-Identifier: MIT

package spotify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/crateworks/linernotes/internal/cache"
	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/platform/httpx"
	"github.com/crateworks/linernotes/internal/ratelimit"
	"github.com/crateworks/linernotes/internal/resilience"
	"github.com/crateworks/linernotes/internal/retry"
)

// mockAPI is a configurable stand-in for the accounts and api hosts.
type mockAPI struct {
	*httptest.Server
	mu        sync.Mutex
	tokenHits int
	hits      map[string]int
	bodies    map[string]string // canned JSON per path
}

func newMockAPI(t *testing.T) *mockAPI {
	t.Helper()
	m := &mockAPI{
		hits:   map[string]int{},
		bodies: map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.tokenHits++
		m.mu.Unlock()
		if _, _, ok := r.BasicAuth(); !ok {
			http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-token-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.hits[r.URL.Path]++
		body := m.bodies[r.URL.Path]
		m.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer test-token-1" {
			http.Error(w, `{"error":{"status":401,"message":"invalid token"}}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})

	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

func (m *mockAPI) hitCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

func (m *mockAPI) tokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenHits
}

func newTestClient(t *testing.T, m *mockAPI) (*Client, cache.Cache) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	store := cache.NewMemoryCache(cache.MemoryOptions{Clock: clk})
	t.Cleanup(func() { _ = store.Close() })

	chain := &httpx.Chain{
		Resource:    "spotify",
		Breakers:    resilience.NewRegistry(nil, clk),
		Limiter:     ratelimit.New(ratelimit.NewMemoryStore(clk), clk),
		MaxRequests: 100,
		Window:      30 * time.Second,
		Retry:       retry.Config{MaxAttempts: 2, Clock: clk},
		Clock:       clk,
	}

	client, err := New(Config{
		ClientID:     "id",
		ClientSecret: "secret",
		BaseURL:      m.URL,
		TokenURL:     m.URL + "/api/token",
	}, Deps{
		HTTP:  m.Client(),
		Guard: httpx.NewGuard(4, nil),
		Chain: chain,
		Cache: store,
		Clock: clk,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, store
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Config{}, Deps{}); err == nil {
		t.Fatal("missing credentials must be rejected")
	}
}

func TestToken_FetchedOnceAndCached(t *testing.T) {
	m := newMockAPI(t)
	m.bodies["/artists/abc123"] = `{"id":"abc123","name":"Radiohead","genres":["art rock"],"popularity":82}`
	client, _ := newTestClient(t, m)
	ctx := context.Background()

	if _, err := client.GetArtist(ctx, "abc123"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	// A different id misses the response cache but reuses the token.
	m.bodies["/artists/def456"] = `{"id":"def456","name":"Portishead"}`
	if _, err := client.GetArtist(ctx, "def456"); err != nil {
		t.Fatalf("second call: %v", err)
	}

	if got := m.tokenCount(); got != 1 {
		t.Fatalf("token endpoint hit %d times, want 1", got)
	}
}

func TestSearchArtist_ResolvesAndCaches(t *testing.T) {
	m := newMockAPI(t)
	m.bodies["/search"] = `{"artists":{"items":[{"id":"3TVXtAsR1Inumwj472S9r4","name":"Drake","popularity":96}],"total":1}}`
	client, _ := newTestClient(t, m)
	ctx := context.Background()

	artist, err := client.SearchArtist(ctx, "Drake")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if artist.ID != "3TVXtAsR1Inumwj472S9r4" || artist.Name != "Drake" {
		t.Fatalf("unexpected artist %+v", artist)
	}

	if _, err := client.SearchArtist(ctx, "Drake"); err != nil {
		t.Fatalf("cached search: %v", err)
	}
	if got := m.hitCount("/search"); got != 1 {
		t.Fatalf("search endpoint hit %d times, want 1", got)
	}
}

func TestSearchArtist_NoMatchIsNotFound(t *testing.T) {
	m := newMockAPI(t)
	m.bodies["/search"] = `{"artists":{"items":[],"total":0}}`
	client, _ := newTestClient(t, m)

	_, err := client.SearchArtist(context.Background(), "zzzz nonexistent zzzz")
	if got := errcat.CategoryOf(err); got != errcat.NotFound {
		t.Fatalf("category = %s, want not_found", got)
	}
	if errcat.IsRetryable(err) {
		t.Fatal("a missing artist is permanent")
	}
}

func TestSearchArtist_EmptyNameRejected(t *testing.T) {
	m := newMockAPI(t)
	client, _ := newTestClient(t, m)

	_, err := client.SearchArtist(context.Background(), "   ")
	if got := errcat.CategoryOf(err); got != errcat.Validation {
		t.Fatalf("category = %s, want validation", got)
	}
}

func TestArtistAlbums_Paging(t *testing.T) {
	m := newMockAPI(t)
	m.bodies["/artists/abc123/albums"] = `{
		"items":[
			{"id":"alb1","name":"OK Computer","album_type":"album","album_group":"album","release_date":"1997-05-21","total_tracks":12,"artists":[{"id":"abc123","name":"Radiohead"}]},
			{"id":"alb2","name":"Kid A","album_type":"album","album_group":"album","release_date":"2000-10","total_tracks":10,"artists":[{"id":"abc123","name":"Radiohead"}]}
		],
		"total":48,
		"next":"https://api.spotify.com/v1/artists/abc123/albums?offset=22&limit=20"
	}`
	client, _ := newTestClient(t, m)

	page, err := client.ArtistAlbums(context.Background(), "abc123", 20, 20)
	if err != nil {
		t.Fatalf("albums: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(page.Items))
	}
	if !page.HasNext {
		t.Fatal("next url present, HasNext must be true")
	}
	if page.NextOffset != 22 {
		t.Fatalf("nextOffset = %d, want 22", page.NextOffset)
	}
	if page.Items[1].ReleaseDate != "2000-10" {
		t.Fatalf("releaseDate = %q, want 2000-10", page.Items[1].ReleaseDate)
	}
}

func TestArtistAlbums_LastPage(t *testing.T) {
	m := newMockAPI(t)
	m.bodies["/artists/abc123/albums"] = `{"items":[{"id":"alb9","name":"Amnesiac","album_type":"album","artists":[{"id":"abc123","name":"Radiohead"}]}],"total":49,"next":null}`
	client, _ := newTestClient(t, m)

	page, err := client.ArtistAlbums(context.Background(), "abc123", 48, 20)
	if err != nil {
		t.Fatalf("albums: %v", err)
	}
	if page.HasNext {
		t.Fatal("null next must mean HasNext=false")
	}
}

func TestAlbumTracks_Decode(t *testing.T) {
	m := newMockAPI(t)
	m.bodies["/albums/alb1/tracks"] = `{
		"items":[{"id":"trk1","name":"Airbag","duration_ms":284640,"track_number":1,"disc_number":1,"artists":[{"id":"abc123","name":"Radiohead"}]}],
		"total":12,
		"next":null
	}`
	client, _ := newTestClient(t, m)

	page, err := client.AlbumTracks(context.Background(), "alb1", 0, 50)
	if err != nil {
		t.Fatalf("tracks: %v", err)
	}
	if page.Items[0].DurationMS != 284640 {
		t.Fatalf("duration = %d, want 284640", page.Items[0].DurationMS)
	}
	if page.NextOffset != 1 {
		t.Fatalf("nextOffset = %d, want 1", page.NextOffset)
	}
}

func TestGet_EvictsRejectedToken(t *testing.T) {
	m := newMockAPI(t)
	m.bodies["/artists/abc123"] = `{"id":"abc123","name":"Radiohead"}`
	client, store := newTestClient(t, m)
	ctx := context.Background()

	// Plant a stale token so the API rejects the first attempt.
	store.Set(tokenCacheKey, "expired-token", time.Hour)

	_, err := client.GetArtist(ctx, "abc123")
	if got := errcat.CategoryOf(err); got != errcat.Transient {
		t.Fatalf("category = %s, want transient", got)
	}
	if _, ok := store.Get(tokenCacheKey); ok {
		t.Fatal("rejected token must be evicted")
	}

	// Next call refreshes and succeeds.
	if _, err := client.GetArtist(ctx, "abc123"); err != nil {
		t.Fatalf("after refresh: %v", err)
	}
	if got := m.tokenCount(); got != 1 {
		t.Fatalf("token endpoint hit %d times, want 1", got)
	}
}
