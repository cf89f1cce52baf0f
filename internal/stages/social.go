// SPDX-License-Identifier: MIT

package stages

import (
	"context"
	"strconv"

	"github.com/crateworks/linernotes/internal/catalog"
	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/log"
	"github.com/crateworks/linernotes/internal/pipeline"
)

// Social resolves a producer's public profile and writes the social
// handles onto the row. An unresolvable profile is not a failure: the
// row is stamped enrichmentFailed so the stage never loops on it.
type Social struct {
	genius  GeniusAPI
	catalog catalog.Store
}

// NewSocial wires the social enrichment stage.
func NewSocial(g GeniusAPI, cat catalog.Store) *Social {
	return &Social{genius: g, catalog: cat}
}

// Handle enriches one producer.
func (s *Social) Handle(ctx context.Context, msg pipeline.SocialMessage) error {
	logger := log.WithComponentFromContext(ctx, "stages")

	p, err := s.catalog.ProducerByID(ctx, msg.ProducerID)
	if err != nil {
		return err
	}
	if p == nil {
		return errcat.Newf(errcat.MissingRecord, "producer %s not in catalog", msg.ProducerID)
	}

	if s.genius == nil || !s.genius.Enabled() {
		logger.Info().Str("producer", p.Name).Msg("social enrichment disabled, no genius access token")
		return nil
	}

	gid, ok := geniusID(p)
	if !ok {
		logger.Warn().Str("producer", p.Name).Msg("producer has no usable genius id, marking enrichment failed")
		return s.catalog.SaveSocials(ctx, p.ID, catalog.SocialProfile{Failed: true})
	}

	artist, err := s.genius.GetArtist(ctx, gid)
	if err != nil {
		if errcat.CategoryOf(err) == errcat.NotFound {
			logger.Warn().Int64("genius_id", gid).Str("producer", p.Name).
				Msg("genius profile gone, marking enrichment failed")
			return s.catalog.SaveSocials(ctx, p.ID, catalog.SocialProfile{Failed: true})
		}
		return err
	}

	profile := catalog.SocialProfile{
		InstagramName:  artist.InstagramName,
		TwitterName:    artist.TwitterName,
		FollowersCount: artist.FollowersCount,
	}
	if err := s.catalog.SaveSocials(ctx, p.ID, profile); err != nil {
		return err
	}

	logger.Info().
		Str("producer", p.Name).
		Bool("instagram", profile.InstagramName != "").
		Bool("twitter", profile.TwitterName != "").
		Msg("producer socials enriched")
	return nil
}

// geniusID extracts the numeric Genius artist id recorded when the
// producer credit was merged.
func geniusID(p *catalog.Producer) (int64, bool) {
	raw, ok := p.Meta.ExternalIDs["genius"]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
