// SPDX-License-Identifier: MIT

// Package catalog owns the durable music-credit rows: artists, albums,
// tracks, the per-artist normalized track names used for dedup, and
// producers with their multi-source attributions. Every write path is
// an idempotent upsert keyed on an external id, so concurrent workers
// and redelivered messages converge on one row per real-world entity.
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Artist is one catalog artist, keyed by its Spotify id.
type Artist struct {
	ID        uuid.UUID
	SpotifyID string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ArtistUpsert is the write shape for UpsertArtist.
type ArtistUpsert struct {
	SpotifyID string
	Name      string
}

// Album is one release, keyed by its Spotify id. ReleaseDate is nil
// when the upstream precision could not be coerced to a day.
type Album struct {
	ID          uuid.UUID
	SpotifyID   string
	ArtistID    uuid.UUID
	Name        string
	AlbumType   string
	ReleaseDate *time.Time
	TotalTracks int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AlbumUpsert is the write shape for UpsertAlbum.
type AlbumUpsert struct {
	SpotifyID   string
	ArtistID    uuid.UUID
	Name        string
	AlbumType   string
	ReleaseDate *time.Time
	TotalTracks int
}

// Track is one track, keyed by its Spotify id.
type Track struct {
	ID          uuid.UUID
	SpotifyID   string
	AlbumID     uuid.UUID
	Name        string
	DurationMS  int
	TrackNumber int
	DiscNumber  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TrackUpsert is the write shape for UpsertTrack.
type TrackUpsert struct {
	SpotifyID   string
	AlbumID     uuid.UUID
	Name        string
	DurationMS  int
	TrackNumber int
	DiscNumber  int
}

// ProducerMeta is the merged cross-source state of a producer, stored
// as one JSON document on the row.
type ProducerMeta struct {
	Roles       []string           `json:"roles,omitempty"`
	Sources     []string           `json:"sources,omitempty"`
	ExternalIDs map[string]string  `json:"externalIds,omitempty"`
	Confidence  map[string]float64 `json:"confidence,omitempty"`
}

// Producer is one producer identity, merged by normalized name across
// every source that proposes it.
type Producer struct {
	ID               uuid.UUID
	NormalizedName   string
	Name             string
	Meta             ProducerMeta
	InstagramName    string
	TwitterName      string
	FollowersCount   int
	EnrichmentFailed bool
	EnrichedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProducerInput is one source's proposal of a producer credit.
type ProducerInput struct {
	Name       string
	Source     string
	Role       string
	Confidence float64
	ExternalID string
}

// SocialProfile is the enrichment result written by the social stage.
// Failed marks a producer whose profile could not be resolved; the row
// still counts as enriched so the stage does not retry forever.
type SocialProfile struct {
	InstagramName  string
	TwitterName    string
	FollowersCount int
	Failed         bool
}

// Store is the catalog persistence contract. Lookups return (nil, nil)
// when no row exists; every error is a real storage failure.
type Store interface {
	UpsertArtist(ctx context.Context, in ArtistUpsert) (*Artist, error)
	ArtistBySpotifyID(ctx context.Context, spotifyID string) (*Artist, error)

	UpsertAlbum(ctx context.Context, in AlbumUpsert) (*Album, error)
	AlbumByID(ctx context.Context, id uuid.UUID) (*Album, error)

	UpsertTrack(ctx context.Context, in TrackUpsert) (*Track, error)
	TrackByID(ctx context.Context, id uuid.UUID) (*Track, error)

	// ClaimTrackName reserves (artistID, normalizedName) for trackID.
	// The first caller wins and gets true; later callers get false and
	// skip the duplicate title.
	ClaimTrackName(ctx context.Context, artistID uuid.UUID, normalizedName string, trackID uuid.UUID) (bool, error)

	// MergeProducer folds one source's proposal into the producer row
	// for the name, creating it when new: roles and sources are
	// unioned, external ids keep their first-seen value per source, and
	// confidence keeps the highest value per source.
	MergeProducer(ctx context.Context, in ProducerInput) (*Producer, error)
	ProducerByID(ctx context.Context, id uuid.UUID) (*Producer, error)

	// AttachProducer links a producer to a track for one source,
	// keeping the highest confidence on conflict.
	AttachProducer(ctx context.Context, trackID, producerID uuid.UUID, source, role string, confidence float64) error

	// SaveSocials writes the enrichment result onto the producer row.
	SaveSocials(ctx context.Context, producerID uuid.UUID, profile SocialProfile) error
}
