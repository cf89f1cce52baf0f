// SPDX-License-Identifier: MIT

package stages

import (
	"context"

	"github.com/crateworks/linernotes/internal/catalog"
	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/normalize"
	"github.com/crateworks/linernotes/internal/pipeline"
	"github.com/crateworks/linernotes/internal/queue"
	"github.com/crateworks/linernotes/internal/spotify"
)

// Album walks one page of an artist's discography, keeping the releases
// the artist owns and fanning each into track discovery.
type Album struct {
	spotify SpotifyAPI
	catalog catalog.Store
	enqueue *pipeline.Enqueuer
}

// NewAlbum wires the album discovery stage.
func NewAlbum(sp SpotifyAPI, cat catalog.Store, enq *pipeline.Enqueuer) *Album {
	return &Album{spotify: sp, catalog: cat, enqueue: enq}
}

// Handle processes one discography page and re-enqueues itself for the
// next page while Spotify reports more.
func (s *Album) Handle(ctx context.Context, msg pipeline.AlbumMessage) error {
	artist, err := s.catalog.ArtistBySpotifyID(ctx, msg.ArtistID)
	if err != nil {
		return err
	}
	if artist == nil {
		return errcat.Newf(errcat.MissingRecord, "artist %s not in catalog", msg.ArtistID)
	}

	page, err := s.spotify.ArtistAlbums(ctx, msg.ArtistID, msg.Offset, pageLimit)
	if err != nil {
		return err
	}

	kept, skipped := 0, 0
	for _, a := range page.Items {
		if !keepAlbum(a, msg.ArtistID) {
			skipped++
			continue
		}

		row, err := s.catalog.UpsertAlbum(ctx, catalog.AlbumUpsert{
			SpotifyID:   a.ID,
			ArtistID:    artist.ID,
			Name:        a.Name,
			AlbumType:   a.AlbumType,
			ReleaseDate: normalize.ReleaseDate(a.ReleaseDate),
			TotalTracks: a.TotalTracks,
		})
		if err != nil {
			return err
		}

		if _, err := s.enqueue.Enqueue(ctx, queue.TrackDiscovery, pipeline.TrackMessage{
			AlbumSpotifyID:  a.ID,
			AlbumUUID:       row.ID,
			AlbumName:       a.Name,
			ArtistSpotifyID: msg.ArtistID,
		}); err != nil {
			return err
		}
		kept++
	}

	if page.HasNext {
		if _, err := s.enqueue.Enqueue(ctx, queue.AlbumDiscovery, pipeline.AlbumMessage{
			ArtistID: msg.ArtistID,
			Offset:   page.NextOffset,
		}); err != nil {
			return err
		}
	}

	logger := log.WithComponentFromContext(ctx, "stages")
	logger.Info().
		Str(log.FieldArtistID, msg.ArtistID).
		Int(log.FieldOffset, msg.Offset).
		Int("kept", kept).
		Int("skipped", skipped).
		Bool("more", page.HasNext).
		Msg("album page processed")
	return nil
}

// keepAlbum keeps primary-artist releases only: the queried artist must
// be the first credited artist, and compilations and appears_on entries
// are dropped.
func keepAlbum(a spotify.Album, artistID string) bool {
	if len(a.Artists) == 0 || a.Artists[0].ID != artistID {
		return false
	}
	if a.AlbumType == "compilation" || a.AlbumGroup == "appears_on" {
		return false
	}
	return true
}
