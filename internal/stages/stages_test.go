// SPDX-License-Identifier: MIT

package stages

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/crateworks/linernotes/internal/catalog"
	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/genius"
	"github.com/crateworks/linernotes/internal/pipeline"
	"github.com/crateworks/linernotes/internal/queue"
	"github.com/crateworks/linernotes/internal/resilience"
	"github.com/crateworks/linernotes/internal/spotify"
	"github.com/crateworks/linernotes/internal/store"
)

// fakeSpotify serves canned catalog pages, shaped like the real client:
// lookups that match nothing return not_found.
type fakeSpotify struct {
	artists    map[string]*spotify.Artist
	searches   map[string]*spotify.Artist
	albumPages map[string]map[int]*spotify.AlbumsPage
	trackPages map[string]map[int]*spotify.TracksPage
	err        error
}

func newFakeSpotify() *fakeSpotify {
	return &fakeSpotify{
		artists:    make(map[string]*spotify.Artist),
		searches:   make(map[string]*spotify.Artist),
		albumPages: make(map[string]map[int]*spotify.AlbumsPage),
		trackPages: make(map[string]map[int]*spotify.TracksPage),
	}
}

func (f *fakeSpotify) SearchArtist(_ context.Context, name string) (*spotify.Artist, error) {
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.searches[strings.ToLower(name)]
	if !ok {
		return nil, errcat.Newf(errcat.NotFound, "no artist matches %q", name)
	}
	return a, nil
}

func (f *fakeSpotify) GetArtist(_ context.Context, id string) (*spotify.Artist, error) {
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.artists[id]
	if !ok {
		return nil, errcat.Newf(errcat.NotFound, "artist %s not found", id)
	}
	return a, nil
}

func (f *fakeSpotify) ArtistAlbums(_ context.Context, id string, offset, _ int) (*spotify.AlbumsPage, error) {
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.albumPages[id][offset]; ok {
		return p, nil
	}
	return &spotify.AlbumsPage{}, nil
}

func (f *fakeSpotify) AlbumTracks(_ context.Context, id string, offset, _ int) (*spotify.TracksPage, error) {
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.trackPages[id][offset]; ok {
		return p, nil
	}
	return &spotify.TracksPage{}, nil
}

// fakeGenius mirrors the optional credits client.
type fakeGenius struct {
	enabled bool
	hits    map[string]*genius.SongHit // lower(title)|lower(artist)
	songs   map[int64]*genius.Song
	artists map[int64]*genius.Artist
	err     error
}

func newFakeGenius() *fakeGenius {
	return &fakeGenius{
		enabled: true,
		hits:    make(map[string]*genius.SongHit),
		songs:   make(map[int64]*genius.Song),
		artists: make(map[int64]*genius.Artist),
	}
}

func (f *fakeGenius) Enabled() bool { return f != nil && f.enabled }

func (f *fakeGenius) SearchSong(_ context.Context, title, artist string) (*genius.SongHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	h, ok := f.hits[strings.ToLower(title)+"|"+strings.ToLower(artist)]
	if !ok {
		return nil, errcat.Newf(errcat.NotFound, "no song matches %q by %q", title, artist)
	}
	return h, nil
}

func (f *fakeGenius) GetSong(_ context.Context, id int64) (*genius.Song, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.songs[id]
	if !ok {
		return nil, errcat.Newf(errcat.NotFound, "song %d not found", id)
	}
	return s, nil
}

func (f *fakeGenius) GetArtist(_ context.Context, id int64) (*genius.Artist, error) {
	if f.err != nil {
		return nil, f.err
	}
	a, ok := f.artists[id]
	if !ok {
		return nil, errcat.Newf(errcat.NotFound, "artist %d not found", id)
	}
	return a, nil
}

type harness struct {
	cat *catalog.Memory
	q   *queue.Memory
	rec *store.Memory
	clk *clock.Fake
	sp  *fakeSpotify
	gen *fakeGenius
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return &harness{
		cat: catalog.NewMemory(clk),
		q:   queue.NewMemory(clk),
		rec: store.NewMemory(),
		clk: clk,
		sp:  newFakeSpotify(),
		gen: newFakeGenius(),
	}
}

func (h *harness) enqueuer(source string) *pipeline.Enqueuer {
	return pipeline.NewEnqueuer(h.q, h.rec, source)
}

// drain reads and decodes every visible message on a queue.
func drain[T any](t *testing.T, q *queue.Memory, name string) []T {
	t.Helper()
	msgs, err := q.Read(context.Background(), name, time.Minute, 100)
	require.NoError(t, err)
	out := make([]T, 0, len(msgs))
	for _, m := range msgs {
		var v T
		require.NoError(t, json.Unmarshal(m.Body, &v))
		out = append(out, v)
	}
	return out
}

// seedArtist puts an artist row in the catalog and returns it.
func (h *harness) seedArtist(t *testing.T, spotifyID, name string) *catalog.Artist {
	t.Helper()
	a, err := h.cat.UpsertArtist(context.Background(), catalog.ArtistUpsert{SpotifyID: spotifyID, Name: name})
	require.NoError(t, err)
	return a
}

func (h *harness) seedAlbum(t *testing.T, a *catalog.Artist, spotifyID, name string) *catalog.Album {
	t.Helper()
	alb, err := h.cat.UpsertAlbum(context.Background(), catalog.AlbumUpsert{
		SpotifyID: spotifyID, ArtistID: a.ID, Name: name, AlbumType: "album",
	})
	require.NoError(t, err)
	return alb
}

func (h *harness) seedTrack(t *testing.T, alb *catalog.Album, spotifyID, name string) *catalog.Track {
	t.Helper()
	tr, err := h.cat.UpsertTrack(context.Background(), catalog.TrackUpsert{
		SpotifyID: spotifyID, AlbumID: alb.ID, Name: name,
	})
	require.NoError(t, err)
	return tr
}

// TestPipelineEndToEnd drives all five stages through the real workers
// until every queue is empty, from a single artist seed.
func TestPipelineEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.sp.searches["drake"] = &spotify.Artist{ID: "sp-drake", Name: "Drake"}
	h.sp.albumPages["sp-drake"] = map[int]*spotify.AlbumsPage{
		0: {
			Items: []spotify.Album{
				{
					ID: "alb-1", Name: "If You're Reading This It's Too Late",
					AlbumType: "album", ReleaseDate: "2015-02-13", TotalTracks: 2,
					Artists: []spotify.ArtistRef{{ID: "sp-drake", Name: "Drake"}},
				},
				{
					ID: "alb-skip", Name: "Now That's Music 99", AlbumType: "compilation",
					Artists: []spotify.ArtistRef{{ID: "sp-drake", Name: "Drake"}},
				},
			},
		},
	}
	h.sp.trackPages["alb-1"] = map[int]*spotify.TracksPage{
		0: {
			Items: []spotify.Track{
				{ID: "tr-1", Name: "Energy", DurationMS: 181000, TrackNumber: 2,
					Artists: []spotify.ArtistRef{{ID: "sp-drake", Name: "Drake"}}},
				{ID: "tr-2", Name: "Energy (Bonus)", DurationMS: 181000, TrackNumber: 3,
					Artists: []spotify.ArtistRef{{ID: "sp-drake", Name: "Drake"}}},
			},
		},
	}
	h.gen.hits["energy|drake"] = &genius.SongHit{ID: 7, Title: "Energy"}
	h.gen.songs[7] = &genius.Song{
		ID:              7,
		ProducerArtists: []genius.ArtistRef{{ID: 42, Name: "Boi-1da"}},
		WriterArtists:   []genius.ArtistRef{{ID: 42, Name: "Boi-1da"}},
	}
	h.gen.artists[42] = &genius.Artist{
		ID: 42, Name: "Boi-1da", InstagramName: "boi1da", TwitterName: "Boi1da", FollowersCount: 1287,
	}

	runners, err := Build(Deps{
		Catalog:  h.cat,
		Spotify:  h.sp,
		Genius:   h.gen,
		Queue:    h.q,
		Recorder: h.rec,
		Breakers: resilience.NewRegistry(resilience.NewMemoryStateStore(), h.clk),
		Clock:    h.clk,
	})
	require.NoError(t, err)
	require.Len(t, runners, 5)

	seed := pipeline.NewEnqueuer(h.q, h.rec, "api")
	_, err = seed.Enqueue(ctx, queue.ArtistDiscovery, pipeline.ArtistMessage{ArtistName: "Drake"})
	require.NoError(t, err)

	// Run stages until the whole tree has drained.
	for range 50 {
		total := 0
		for _, name := range queue.All() {
			n, err := runners[name].RunOnce(ctx)
			require.NoError(t, err)
			total += n
		}
		if total == 0 {
			break
		}
	}

	artist, err := h.cat.ArtistBySpotifyID(ctx, "sp-drake")
	require.NoError(t, err)
	require.NotNil(t, artist, "artist row created")

	links := h.cat.Attachments()
	require.Len(t, links, 1, "one producer linked to one track")
	require.Equal(t, "genius", links[0].Source)
	require.InDelta(t, producerConfidence, links[0].Confidence, 1e-9)

	p, err := h.cat.ProducerByID(ctx, links[0].ProducerID)
	require.NoError(t, err)
	require.Equal(t, "Boi-1da", p.Name)
	require.ElementsMatch(t, []string{"producer", "writer"}, p.Meta.Roles)
	require.Equal(t, "boi1da", p.InstagramName)
	require.Equal(t, 1287, p.FollowersCount)
	require.False(t, p.EnrichmentFailed)
	require.NotNil(t, p.EnrichedAt)

	require.Empty(t, h.rec.DeadLetters, "clean run must not dead letter")
}
