// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/normalize"
	"github.com/crateworks/linernotes/internal/store"
)

// PGStore is the Postgres-backed catalog. Upserts resolve concurrent
// writers through unique indexes on the external ids; the producer
// merge runs in a transaction and replays on races.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore returns a PGStore over pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const upsertArtistSQL = `
INSERT INTO artists (id, spotify_id, name)
VALUES ($1, $2, $3)
ON CONFLICT (spotify_id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()
RETURNING id, spotify_id, name, created_at, updated_at`

func (s *PGStore) UpsertArtist(ctx context.Context, in ArtistUpsert) (*Artist, error) {
	if in.SpotifyID == "" {
		return nil, errcat.New(errcat.Validation, "artist spotify id is empty")
	}

	var artist *Artist
	err := store.WithRetry(ctx, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, upsertArtistSQL, uuid.New(), in.SpotifyID, in.Name)
		a, err := scanArtist(row)
		if err != nil {
			return store.Categorize(err, "upserting artist")
		}
		artist = a
		return nil
	})
	return artist, err
}

func (s *PGStore) ArtistBySpotifyID(ctx context.Context, spotifyID string) (*Artist, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, spotify_id, name, created_at, updated_at FROM artists WHERE spotify_id = $1`,
		spotifyID)
	a, err := scanArtist(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Categorize(err, "loading artist")
	}
	return a, nil
}

const upsertAlbumSQL = `
INSERT INTO albums (id, spotify_id, artist_id, name, album_type, release_date, total_tracks)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (spotify_id) DO UPDATE SET
	name = EXCLUDED.name,
	album_type = EXCLUDED.album_type,
	release_date = EXCLUDED.release_date,
	total_tracks = EXCLUDED.total_tracks,
	updated_at = now()
RETURNING id, spotify_id, artist_id, name, album_type, release_date, total_tracks, created_at, updated_at`

func (s *PGStore) UpsertAlbum(ctx context.Context, in AlbumUpsert) (*Album, error) {
	if in.SpotifyID == "" {
		return nil, errcat.New(errcat.Validation, "album spotify id is empty")
	}

	var album *Album
	err := store.WithRetry(ctx, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, upsertAlbumSQL,
			uuid.New(), in.SpotifyID, in.ArtistID, in.Name, in.AlbumType, in.ReleaseDate, in.TotalTracks)
		a, err := scanAlbum(row)
		if err != nil {
			return store.Categorize(err, "upserting album")
		}
		album = a
		return nil
	})
	return album, err
}

func (s *PGStore) AlbumByID(ctx context.Context, id uuid.UUID) (*Album, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, spotify_id, artist_id, name, album_type, release_date, total_tracks, created_at, updated_at
		 FROM albums WHERE id = $1`, id)
	a, err := scanAlbum(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Categorize(err, "loading album")
	}
	return a, nil
}

const upsertTrackSQL = `
INSERT INTO tracks (id, spotify_id, album_id, name, duration_ms, track_number, disc_number)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (spotify_id) DO UPDATE SET
	name = EXCLUDED.name,
	duration_ms = EXCLUDED.duration_ms,
	track_number = EXCLUDED.track_number,
	disc_number = EXCLUDED.disc_number,
	updated_at = now()
RETURNING id, spotify_id, album_id, name, duration_ms, track_number, disc_number, created_at, updated_at`

func (s *PGStore) UpsertTrack(ctx context.Context, in TrackUpsert) (*Track, error) {
	if in.SpotifyID == "" {
		return nil, errcat.New(errcat.Validation, "track spotify id is empty")
	}

	var track *Track
	err := store.WithRetry(ctx, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, upsertTrackSQL,
			uuid.New(), in.SpotifyID, in.AlbumID, in.Name, in.DurationMS, in.TrackNumber, in.DiscNumber)
		t, err := scanTrack(row)
		if err != nil {
			return store.Categorize(err, "upserting track")
		}
		track = t
		return nil
	})
	return track, err
}

func (s *PGStore) TrackByID(ctx context.Context, id uuid.UUID) (*Track, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, spotify_id, album_id, name, duration_ms, track_number, disc_number, created_at, updated_at
		 FROM tracks WHERE id = $1`, id)
	t, err := scanTrack(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Categorize(err, "loading track")
	}
	return t, nil
}

func (s *PGStore) ClaimTrackName(ctx context.Context, artistID uuid.UUID, normalizedName string, trackID uuid.UUID) (bool, error) {
	if normalizedName == "" {
		return false, errcat.New(errcat.Validation, "normalized name is empty")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO normalized_tracks (id, artist_id, normalized_name, representative_track_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (artist_id, normalized_name) DO NOTHING`,
		uuid.New(), artistID, normalizedName, trackID)
	if err != nil {
		return false, store.Categorize(err, "claiming track name")
	}
	return tag.RowsAffected() == 1, nil
}

const producerColumns = `id, normalized_name, name, metadata,
	coalesce(instagram_name, ''), coalesce(twitter_name, ''), coalesce(followers_count, 0),
	enrichment_failed, enriched_at, created_at, updated_at`

// MergeProducer runs select-for-update then insert-or-merge. A losing
// race on the fresh insert raises a unique violation, rolls the
// transaction back and replays into the merge path.
func (s *PGStore) MergeProducer(ctx context.Context, in ProducerInput) (*Producer, error) {
	normalized := normalize.Title(in.Name)
	if normalized == "" {
		return nil, errcat.Newf(errcat.Validation, "producer name %q normalizes to nothing", in.Name)
	}

	var producer *Producer
	err := store.WithRetry(ctx, func(ctx context.Context) error {
		return store.WithTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
			row := tx.QueryRow(ctx,
				`SELECT `+producerColumns+` FROM producers WHERE normalized_name = $1 FOR UPDATE`,
				normalized)
			existing, err := scanProducer(row)

			switch {
			case errors.Is(err, pgx.ErrNoRows):
				meta := ProducerMeta{}
				meta.merge(in)
				metaJSON, err := json.Marshal(meta)
				if err != nil {
					return fmt.Errorf("catalog: encoding producer metadata: %w", err)
				}
				row := tx.QueryRow(ctx,
					`INSERT INTO producers (id, normalized_name, name, metadata)
					 VALUES ($1, $2, $3, $4)
					 RETURNING `+producerColumns,
					uuid.New(), normalized, in.Name, metaJSON)
				created, err := scanProducer(row)
				if err != nil {
					return store.Categorize(err, "inserting producer")
				}
				producer = created
				return nil

			case err != nil:
				return store.Categorize(err, "locking producer")

			default:
				existing.Meta.merge(in)
				name := existing.Name
				if name == "" {
					name = in.Name
				}
				metaJSON, err := json.Marshal(existing.Meta)
				if err != nil {
					return fmt.Errorf("catalog: encoding producer metadata: %w", err)
				}
				row := tx.QueryRow(ctx,
					`UPDATE producers SET name = $2, metadata = $3, updated_at = now()
					 WHERE id = $1 RETURNING `+producerColumns,
					existing.ID, name, metaJSON)
				merged, err := scanProducer(row)
				if err != nil {
					return store.Categorize(err, "merging producer")
				}
				producer = merged
				return nil
			}
		})
	})
	return producer, err
}

func (s *PGStore) ProducerByID(ctx context.Context, id uuid.UUID) (*Producer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+producerColumns+` FROM producers WHERE id = $1`, id)
	p, err := scanProducer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Categorize(err, "loading producer")
	}
	return p, nil
}

func (s *PGStore) AttachProducer(ctx context.Context, trackID, producerID uuid.UUID, source, role string, confidence float64) error {
	return store.WithRetry(ctx, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO track_producers (track_id, producer_id, source, role, confidence)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (track_id, producer_id, source) DO UPDATE SET
				confidence = GREATEST(track_producers.confidence, EXCLUDED.confidence),
				role = EXCLUDED.role`,
			trackID, producerID, source, role, confidence)
		if err != nil {
			return store.Categorize(err, "attaching producer to track")
		}
		return nil
	})
}

func (s *PGStore) SaveSocials(ctx context.Context, producerID uuid.UUID, profile SocialProfile) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE producers SET
			instagram_name = NULLIF($2, ''),
			twitter_name = NULLIF($3, ''),
			followers_count = $4,
			enrichment_failed = $5,
			enriched_at = now(),
			updated_at = now()
		 WHERE id = $1`,
		producerID, profile.InstagramName, profile.TwitterName, profile.FollowersCount, profile.Failed)
	if err != nil {
		return store.Categorize(err, "saving producer socials")
	}
	if tag.RowsAffected() == 0 {
		return errcat.Newf(errcat.MissingRecord, "producer %s not found", producerID)
	}
	return nil
}

func scanArtist(row pgx.Row) (*Artist, error) {
	var a Artist
	if err := row.Scan(&a.ID, &a.SpotifyID, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAlbum(row pgx.Row) (*Album, error) {
	var a Album
	if err := row.Scan(&a.ID, &a.SpotifyID, &a.ArtistID, &a.Name, &a.AlbumType,
		&a.ReleaseDate, &a.TotalTracks, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanTrack(row pgx.Row) (*Track, error) {
	var t Track
	if err := row.Scan(&t.ID, &t.SpotifyID, &t.AlbumID, &t.Name, &t.DurationMS,
		&t.TrackNumber, &t.DiscNumber, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanProducer(row pgx.Row) (*Producer, error) {
	var (
		p    Producer
		meta []byte
	)
	if err := row.Scan(&p.ID, &p.NormalizedName, &p.Name, &meta,
		&p.InstagramName, &p.TwitterName, &p.FollowersCount,
		&p.EnrichmentFailed, &p.EnrichedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Meta); err != nil {
			return nil, fmt.Errorf("catalog: decoding producer metadata: %w", err)
		}
	}
	return &p, nil
}
