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
)

// Track walks one page of an album's tracks, deduplicates titles per
// artist and fans each new title into producer identification.
type Track struct {
	spotify SpotifyAPI
	catalog catalog.Store
	enqueue *pipeline.Enqueuer
}

// NewTrack wires the track discovery stage.
func NewTrack(sp SpotifyAPI, cat catalog.Store, enq *pipeline.Enqueuer) *Track {
	return &Track{spotify: sp, catalog: cat, enqueue: enq}
}

// Handle processes one track page. Both parent rows must already exist;
// a missing one means the message arrived out of order from a seed this
// pipeline never processed, which no retry can repair.
func (s *Track) Handle(ctx context.Context, msg pipeline.TrackMessage) error {
	artist, err := s.catalog.ArtistBySpotifyID(ctx, msg.ArtistSpotifyID)
	if err != nil {
		return err
	}
	if artist == nil {
		return errcat.Newf(errcat.MissingRecord, "artist %s not in catalog", msg.ArtistSpotifyID)
	}

	album, err := s.catalog.AlbumByID(ctx, msg.AlbumUUID)
	if err != nil {
		return err
	}
	if album == nil {
		return errcat.Newf(errcat.MissingRecord, "album %s not in catalog", msg.AlbumUUID)
	}

	page, err := s.spotify.AlbumTracks(ctx, msg.AlbumSpotifyID, msg.Offset, pageLimit)
	if err != nil {
		return err
	}

	logger := log.WithComponentFromContext(ctx, "stages")
	kept, skipped := 0, 0
	for _, tr := range page.Items {
		if len(tr.Artists) == 0 || tr.Artists[0].ID != msg.ArtistSpotifyID {
			skipped++
			continue
		}

		normalized := normalize.Title(tr.Name)
		if normalized == "" {
			logger.Warn().Str("track", tr.Name).Msg("track name normalizes to nothing, skipping")
			skipped++
			continue
		}

		row, err := s.catalog.UpsertTrack(ctx, catalog.TrackUpsert{
			SpotifyID:   tr.ID,
			AlbumID:     album.ID,
			Name:        tr.Name,
			DurationMS:  tr.DurationMS,
			TrackNumber: tr.TrackNumber,
			DiscNumber:  tr.DiscNumber,
		})
		if err != nil {
			return err
		}

		won, err := s.catalog.ClaimTrackName(ctx, artist.ID, normalized, row.ID)
		if err != nil {
			return err
		}
		if !won {
			// Another release already carries this title (remaster,
			// deluxe edition); its first claimant owns the credits work.
			skipped++
			continue
		}

		if _, err := s.enqueue.Enqueue(ctx, queue.ProducerIdentification, pipeline.ProducerMessage{
			TrackSpotifyID:  tr.ID,
			TrackUUID:       row.ID,
			TrackName:       tr.Name,
			AlbumSpotifyID:  msg.AlbumSpotifyID,
			ArtistSpotifyID: msg.ArtistSpotifyID,
		}); err != nil {
			return err
		}
		kept++
	}

	if page.HasNext {
		next := msg
		next.Offset = page.NextOffset
		if _, err := s.enqueue.Enqueue(ctx, queue.TrackDiscovery, next); err != nil {
			return err
		}
	}

	logger.Info().
		Str(log.FieldAlbumID, msg.AlbumSpotifyID).
		Int(log.FieldOffset, msg.Offset).
		Int("kept", kept).
		Int("skipped", skipped).
		Bool("more", page.HasNext).
		Msg("track page processed")
	return nil
}
