// SPDX-License-Identifier: MIT

// Package stages holds the five pipeline handlers: artist discovery,
// album discovery, track discovery, producer identification and social
// enrichment. Handlers carry the domain semantics only; polling,
// validation, retries and dead lettering live in the pipeline worker.
package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/crateworks/linernotes/internal/catalog"
	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/config"
	"github.com/crateworks/linernotes/internal/genius"
	"github.com/crateworks/linernotes/internal/pipeline"
	"github.com/crateworks/linernotes/internal/queue"
	"github.com/crateworks/linernotes/internal/resilience"
	"github.com/crateworks/linernotes/internal/spotify"
	"github.com/crateworks/linernotes/internal/store"
)

// SpotifyAPI is the slice of the Spotify client the discovery stages
// consume.
type SpotifyAPI interface {
	SearchArtist(ctx context.Context, name string) (*spotify.Artist, error)
	GetArtist(ctx context.Context, id string) (*spotify.Artist, error)
	ArtistAlbums(ctx context.Context, id string, offset, limit int) (*spotify.AlbumsPage, error)
	AlbumTracks(ctx context.Context, id string, offset, limit int) (*spotify.TracksPage, error)
}

// GeniusAPI is the slice of the Genius client the credit stages consume.
// A nil *genius.Client satisfies it with Enabled reporting false, which
// makes the stages degrade instead of failing.
type GeniusAPI interface {
	Enabled() bool
	SearchSong(ctx context.Context, title, artist string) (*genius.SongHit, error)
	GetSong(ctx context.Context, id int64) (*genius.Song, error)
	GetArtist(ctx context.Context, id int64) (*genius.Artist, error)
}

var (
	_ SpotifyAPI = (*spotify.Client)(nil)
	_ GeniusAPI  = (*genius.Client)(nil)
)

// pageLimit is the page size requested from Spotify list endpoints.
const pageLimit = 50

// Caps that keep one message's work inside its processing deadline;
// stage D trims past them with a warning.
const (
	maxProducersPerTrack = 25
	maxEnrichmentFanOut  = 10
)

// Deps bundles everything the stage handlers share.
type Deps struct {
	Catalog   catalog.Store
	Spotify   SpotifyAPI
	Genius    GeniusAPI
	Queue     queue.Queue
	Recorder  store.Recorder
	Breakers  *resilience.Registry
	Clock     clock.Clock
	Overrides map[string]config.StageOverride
}

// DefaultConfig returns the worker tuning for one stage queue. The
// per-message deadline grows with how much fan-out the stage performs.
func DefaultConfig(q string) pipeline.Config {
	cfg := pipeline.Config{Queue: q}
	switch q {
	case queue.ArtistDiscovery:
		cfg.Timeout = 30 * time.Second
	case queue.AlbumDiscovery:
		cfg.Timeout = 60 * time.Second
	case queue.TrackDiscovery:
		cfg.Timeout = 120 * time.Second
	case queue.ProducerIdentification:
		cfg.Timeout = 180 * time.Second
	case queue.SocialEnrichment:
		cfg.Timeout = 45 * time.Second
		cfg.BatchSize = 3
	}
	return cfg
}

func applyOverride(cfg pipeline.Config, o config.StageOverride) pipeline.Config {
	if o.VisibilityTimeout.Std() > 0 {
		cfg.VisibilityTimeout = o.VisibilityTimeout.Std()
	}
	if o.BatchSize > 0 {
		cfg.BatchSize = o.BatchSize
	}
	if o.Timeout.Std() > 0 {
		cfg.Timeout = o.Timeout.Std()
	}
	if o.MaxRetries > 0 {
		cfg.MaxRetries = o.MaxRetries
	}
	return cfg
}

// Build wires the five stage workers, keyed by queue name.
func Build(deps Deps) (map[string]pipeline.Runner, error) {
	if deps.Catalog == nil || deps.Spotify == nil || deps.Queue == nil ||
		deps.Recorder == nil || deps.Breakers == nil {
		return nil, fmt.Errorf("stages: missing dependency")
	}

	enq := func(source string) *pipeline.Enqueuer {
		return pipeline.NewEnqueuer(deps.Queue, deps.Recorder, source)
	}
	artist := NewArtist(deps.Spotify, deps.Catalog, enq(queue.ArtistDiscovery))
	album := NewAlbum(deps.Spotify, deps.Catalog, enq(queue.AlbumDiscovery))
	track := NewTrack(deps.Spotify, deps.Catalog, enq(queue.TrackDiscovery))
	producer := NewProducer(deps.Genius, deps.Catalog, enq(queue.ProducerIdentification))
	social := NewSocial(deps.Genius, deps.Catalog)

	runners := make(map[string]pipeline.Runner, 5)
	cfgFor := func(q string) pipeline.Config {
		cfg := DefaultConfig(q)
		if o, ok := deps.Overrides[q]; ok {
			cfg = applyOverride(cfg, o)
		}
		cfg.Clock = deps.Clock
		return cfg
	}

	w1, err := pipeline.NewWorker(cfgFor(queue.ArtistDiscovery), deps.Queue, deps.Recorder, deps.Breakers, artist.Handle)
	if err != nil {
		return nil, err
	}
	w2, err := pipeline.NewWorker(cfgFor(queue.AlbumDiscovery), deps.Queue, deps.Recorder, deps.Breakers, album.Handle)
	if err != nil {
		return nil, err
	}
	w3, err := pipeline.NewWorker(cfgFor(queue.TrackDiscovery), deps.Queue, deps.Recorder, deps.Breakers, track.Handle)
	if err != nil {
		return nil, err
	}
	w4, err := pipeline.NewWorker(cfgFor(queue.ProducerIdentification), deps.Queue, deps.Recorder, deps.Breakers, producer.Handle)
	if err != nil {
		return nil, err
	}
	w5, err := pipeline.NewWorker(cfgFor(queue.SocialEnrichment), deps.Queue, deps.Recorder, deps.Breakers, social.Handle)
	if err != nil {
		return nil, err
	}

	runners[queue.ArtistDiscovery] = w1
	runners[queue.AlbumDiscovery] = w2
	runners[queue.TrackDiscovery] = w3
	runners[queue.ProducerIdentification] = w4
	runners[queue.SocialEnrichment] = w5
	return runners, nil
}
