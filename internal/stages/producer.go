// SPDX-License-Identifier: MIT

package stages

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/crateworks/linernotes/internal/catalog"
	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/genius"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/pipeline"
	"github.com/crateworks/linernotes/internal/queue"
)

// Credit confidence by how directly the source names the role. Explicit
// production credits outrank writing credits when both propose the same
// person.
const (
	producerConfidence = 1.0
	writerConfidence   = 0.8
)

// Producer identifies who made one track: it resolves the track's
// credit page, merges every credited person into the producer catalog
// and fans the new ones into social enrichment.
type Producer struct {
	genius  GeniusAPI
	catalog catalog.Store
	enqueue *pipeline.Enqueuer
}

// NewProducer wires the producer identification stage.
func NewProducer(g GeniusAPI, cat catalog.Store, enq *pipeline.Enqueuer) *Producer {
	return &Producer{genius: g, catalog: cat, enqueue: enq}
}

// Handle records the credits of one track. Tracks without a credit page
// succeed with nothing recorded: most catalogs only cover a slice of
// any discography, and retrying cannot conjure a page into existence.
func (s *Producer) Handle(ctx context.Context, msg pipeline.ProducerMessage) error {
	logger := log.WithComponentFromContext(ctx, "stages")

	track, err := s.catalog.TrackByID(ctx, msg.TrackUUID)
	if err != nil {
		return err
	}
	if track == nil {
		return errcat.Newf(errcat.MissingRecord, "track %s not in catalog", msg.TrackUUID)
	}

	if s.genius == nil || !s.genius.Enabled() {
		logger.Info().Str("track", msg.TrackName).Msg("credit lookup disabled, no genius access token")
		return nil
	}

	artist, err := s.catalog.ArtistBySpotifyID(ctx, msg.ArtistSpotifyID)
	if err != nil {
		return err
	}
	if artist == nil {
		return errcat.Newf(errcat.MissingRecord, "artist %s not in catalog", msg.ArtistSpotifyID)
	}

	hit, err := s.genius.SearchSong(ctx, msg.TrackName, artist.Name)
	if err != nil {
		if errcat.CategoryOf(err) == errcat.NotFound {
			logger.Debug().Str("track", msg.TrackName).Msg("no credit page for track")
			return nil
		}
		return err
	}

	song, err := s.genius.GetSong(ctx, hit.ID)
	if err != nil {
		return err
	}

	credits := creditList(song)
	if len(credits) > maxProducersPerTrack {
		logger.Warn().
			Int("credits", len(credits)).
			Int("cap", maxProducersPerTrack).
			Str("track", msg.TrackName).
			Msg("trimming producer credits to cap")
		credits = credits[:maxProducersPerTrack]
	}

	fanned := 0
	seen := make(map[uuid.UUID]bool, len(credits))
	for _, in := range credits {
		p, err := s.catalog.MergeProducer(ctx, in)
		if err != nil {
			if errcat.CategoryOf(err) == errcat.Validation {
				logger.Warn().Err(err).Str("credit", in.Name).Msg("skipping unusable producer credit")
				continue
			}
			return err
		}
		if err := s.catalog.AttachProducer(ctx, track.ID, p.ID, in.Source, in.Role, in.Confidence); err != nil {
			return err
		}

		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		if fanned >= maxEnrichmentFanOut {
			continue
		}
		if _, err := s.enqueue.Enqueue(ctx, queue.SocialEnrichment, pipeline.SocialMessage{
			ProducerID:   p.ID,
			ProducerName: p.Name,
		}); err != nil {
			return err
		}
		fanned++
	}
	if len(seen) > maxEnrichmentFanOut {
		logger.Warn().
			Int("producers", len(seen)).
			Int("cap", maxEnrichmentFanOut).
			Str("track", msg.TrackName).
			Msg("trimming enrichment fan-out to cap")
	}

	logger.Info().
		Str(log.FieldTrackID, track.ID.String()).
		Int("credits", len(credits)).
		Int("fanned_out", fanned).
		Msg("producer credits recorded")
	return nil
}

// creditList flattens a song's credited people into producer inputs,
// production credits first so they win the fan-out cap.
func creditList(song *genius.Song) []catalog.ProducerInput {
	credits := make([]catalog.ProducerInput, 0, len(song.ProducerArtists)+len(song.WriterArtists))
	for _, a := range song.ProducerArtists {
		credits = append(credits, catalog.ProducerInput{
			Name:       a.Name,
			Source:     "genius",
			Role:       "producer",
			Confidence: producerConfidence,
			ExternalID: strconv.FormatInt(a.ID, 10),
		})
	}
	for _, a := range song.WriterArtists {
		credits = append(credits, catalog.ProducerInput{
			Name:       a.Name,
			Source:     "genius",
			Role:       "writer",
			Confidence: writerConfidence,
			ExternalID: strconv.FormatInt(a.ID, 10),
		})
	}
	return credits
}
