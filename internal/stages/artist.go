// SPDX-License-Identifier: MIT

package stages

import (
	"context"

	"github.com/crateworks/linernotes/internal/catalog"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/pipeline"
	"github.com/crateworks/linernotes/internal/queue"
	"github.com/crateworks/linernotes/internal/spotify"
)

// Artist is the seed stage: it resolves the requested artist against
// Spotify, upserts the catalog row and opens the discography walk.
type Artist struct {
	spotify SpotifyAPI
	catalog catalog.Store
	enqueue *pipeline.Enqueuer
}

// NewArtist wires the artist discovery stage.
func NewArtist(sp SpotifyAPI, cat catalog.Store, enq *pipeline.Enqueuer) *Artist {
	return &Artist{spotify: sp, catalog: cat, enqueue: enq}
}

// Handle resolves the artist, writes the row and enqueues the first
// album page. A name that matches nothing is permanent: the seed was
// wrong, retrying cannot fix it.
func (s *Artist) Handle(ctx context.Context, msg pipeline.ArtistMessage) error {
	var (
		artist *spotify.Artist
		err    error
	)
	if msg.ArtistID != "" {
		artist, err = s.spotify.GetArtist(ctx, msg.ArtistID)
	} else {
		artist, err = s.spotify.SearchArtist(ctx, msg.ArtistName)
	}
	if err != nil {
		return err
	}

	row, err := s.catalog.UpsertArtist(ctx, catalog.ArtistUpsert{
		SpotifyID: artist.ID,
		Name:      artist.Name,
	})
	if err != nil {
		return err
	}

	if _, err := s.enqueue.Enqueue(ctx, queue.AlbumDiscovery, pipeline.AlbumMessage{
		ArtistID: artist.ID,
	}); err != nil {
		return err
	}

	logger := log.WithComponentFromContext(ctx, "stages")
	logger.Info().
		Str(log.FieldArtistID, artist.ID).
		Str("name", artist.Name).
		Str("row_id", row.ID.String()).
		Msg("artist discovered")
	return nil
}
