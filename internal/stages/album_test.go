// SPDX-License-Identifier: MIT

package stages

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/pipeline"
	"github.com/crateworks/linernotes/internal/queue"
	"github.com/crateworks/linernotes/internal/spotify"
)

func TestAlbum_KeepsPrimaryReleasesOnly(t *testing.T) {
	h := newHarness(t)
	artist := h.seedArtist(t, "sp-drake", "Drake")
	h.sp.albumPages["sp-drake"] = map[int]*spotify.AlbumsPage{
		0: {Items: []spotify.Album{
			{ID: "alb-keep", Name: "Take Care", AlbumType: "album", ReleaseDate: "2011-11-15",
				TotalTracks: 18, Artists: []spotify.ArtistRef{{ID: "sp-drake"}}},
			{ID: "alb-foreign", Name: "Someone Else's", AlbumType: "album",
				Artists: []spotify.ArtistRef{{ID: "sp-other"}, {ID: "sp-drake"}}},
			{ID: "alb-comp", Name: "Hits 2011", AlbumType: "compilation",
				Artists: []spotify.ArtistRef{{ID: "sp-drake"}}},
			{ID: "alb-feature", Name: "Guest Spot", AlbumType: "album", AlbumGroup: "appears_on",
				Artists: []spotify.ArtistRef{{ID: "sp-drake"}}},
		}},
	}
	stage := NewAlbum(h.sp, h.cat, h.enqueuer(queue.AlbumDiscovery))

	err := stage.Handle(context.Background(), pipeline.AlbumMessage{ArtistID: "sp-drake"})
	require.NoError(t, err)

	next := drain[pipeline.TrackMessage](t, h.q, queue.TrackDiscovery)
	require.Len(t, next, 1, "only the primary album proceeds")
	assert.Equal(t, "alb-keep", next[0].AlbumSpotifyID)
	assert.Equal(t, "Take Care", next[0].AlbumName)
	assert.Equal(t, "sp-drake", next[0].ArtistSpotifyID)

	row, err := h.cat.AlbumByID(context.Background(), next[0].AlbumUUID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, artist.ID, row.ArtistID)
	require.NotNil(t, row.ReleaseDate)
	assert.Equal(t, time.Date(2011, 11, 15, 0, 0, 0, 0, time.UTC), *row.ReleaseDate)

	assert.Empty(t, drain[pipeline.AlbumMessage](t, h.q, queue.AlbumDiscovery), "no further pages")
}

func TestAlbum_PagingReenqueuesNextOffset(t *testing.T) {
	h := newHarness(t)
	h.seedArtist(t, "sp-drake", "Drake")
	h.sp.albumPages["sp-drake"] = map[int]*spotify.AlbumsPage{
		20: {
			Items: []spotify.Album{{ID: "alb-2", Name: "Scorpion", AlbumType: "album",
				Artists: []spotify.ArtistRef{{ID: "sp-drake"}}}},
			HasNext:    true,
			NextOffset: 40,
		},
	}
	stage := NewAlbum(h.sp, h.cat, h.enqueuer(queue.AlbumDiscovery))

	err := stage.Handle(context.Background(), pipeline.AlbumMessage{ArtistID: "sp-drake", Offset: 20})
	require.NoError(t, err)

	pages := drain[pipeline.AlbumMessage](t, h.q, queue.AlbumDiscovery)
	require.Len(t, pages, 1)
	assert.Equal(t, 40, pages[0].Offset)
	assert.Equal(t, "sp-drake", pages[0].ArtistID)
}

func TestAlbum_MissingArtistRowIsPermanent(t *testing.T) {
	h := newHarness(t)
	stage := NewAlbum(h.sp, h.cat, h.enqueuer(queue.AlbumDiscovery))

	err := stage.Handle(context.Background(), pipeline.AlbumMessage{ArtistID: "sp-ghost"})
	require.Error(t, err)
	assert.Equal(t, errcat.MissingRecord, errcat.CategoryOf(err))
	assert.False(t, errcat.IsRetryable(err))
}

func TestAlbum_MonthPrecisionReleaseDate(t *testing.T) {
	h := newHarness(t)
	h.seedArtist(t, "sp-x", "X")
	h.sp.albumPages["sp-x"] = map[int]*spotify.AlbumsPage{
		0: {Items: []spotify.Album{{ID: "alb-m", Name: "Old One", AlbumType: "album",
			ReleaseDate: "1994-03", Artists: []spotify.ArtistRef{{ID: "sp-x"}}}}},
	}
	stage := NewAlbum(h.sp, h.cat, h.enqueuer(queue.AlbumDiscovery))

	require.NoError(t, stage.Handle(context.Background(), pipeline.AlbumMessage{ArtistID: "sp-x"}))

	next := drain[pipeline.TrackMessage](t, h.q, queue.TrackDiscovery)
	require.Len(t, next, 1)
	row, err := h.cat.AlbumByID(context.Background(), next[0].AlbumUUID)
	require.NoError(t, err)
	require.NotNil(t, row.ReleaseDate)
	assert.Equal(t, time.Date(1994, 3, 1, 0, 0, 0, 0, time.UTC), *row.ReleaseDate)
}
