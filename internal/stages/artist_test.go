// SPDX-License-Identifier: MIT

package stages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/pipeline"
	"github.com/crateworks/linernotes/internal/queue"
	"github.com/crateworks/linernotes/internal/spotify"
)

func TestArtist_SeedByName(t *testing.T) {
	h := newHarness(t)
	h.sp.searches["drake"] = &spotify.Artist{ID: "sp-drake", Name: "Drake"}
	stage := NewArtist(h.sp, h.cat, h.enqueuer(queue.ArtistDiscovery))

	err := stage.Handle(context.Background(), pipeline.ArtistMessage{ArtistName: "Drake"})
	require.NoError(t, err)

	row, err := h.cat.ArtistBySpotifyID(context.Background(), "sp-drake")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "Drake", row.Name)

	next := drain[pipeline.AlbumMessage](t, h.q, queue.AlbumDiscovery)
	require.Len(t, next, 1)
	assert.Equal(t, "sp-drake", next[0].ArtistID)
	assert.Zero(t, next[0].Offset)
}

func TestArtist_SeedBySpotifyID(t *testing.T) {
	h := newHarness(t)
	h.sp.artists["sp-drake"] = &spotify.Artist{ID: "sp-drake", Name: "Drake"}
	stage := NewArtist(h.sp, h.cat, h.enqueuer(queue.ArtistDiscovery))

	err := stage.Handle(context.Background(), pipeline.ArtistMessage{ArtistID: "sp-drake"})
	require.NoError(t, err)

	row, err := h.cat.ArtistBySpotifyID(context.Background(), "sp-drake")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Len(t, drain[pipeline.AlbumMessage](t, h.q, queue.AlbumDiscovery), 1)
}

func TestArtist_UnknownNameIsPermanent(t *testing.T) {
	h := newHarness(t)
	stage := NewArtist(h.sp, h.cat, h.enqueuer(queue.ArtistDiscovery))

	err := stage.Handle(context.Background(), pipeline.ArtistMessage{ArtistName: "nobody you know"})
	require.Error(t, err)
	assert.Equal(t, errcat.NotFound, errcat.CategoryOf(err))
	assert.False(t, errcat.IsRetryable(err))
	assert.Empty(t, drain[pipeline.AlbumMessage](t, h.q, queue.AlbumDiscovery))
}

func TestArtist_ReseedRefreshesExistingRow(t *testing.T) {
	h := newHarness(t)
	existing := h.seedArtist(t, "sp-drake", "Drake (old)")
	h.sp.artists["sp-drake"] = &spotify.Artist{ID: "sp-drake", Name: "Drake"}
	stage := NewArtist(h.sp, h.cat, h.enqueuer(queue.ArtistDiscovery))

	err := stage.Handle(context.Background(), pipeline.ArtistMessage{ArtistID: "sp-drake"})
	require.NoError(t, err)

	row, err := h.cat.ArtistBySpotifyID(context.Background(), "sp-drake")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, row.ID, "reseeding keeps the row identity")
	assert.Equal(t, "Drake", row.Name)
}
