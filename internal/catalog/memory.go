// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/normalize"
)

// Attachment is one track-producer link held by the memory store,
// exposed so tests can assert on attribution writes.
type Attachment struct {
	TrackID    uuid.UUID
	ProducerID uuid.UUID
	Source     string
	Role       string
	Confidence float64
}

// Memory is an in-process Store with the same upsert and merge
// semantics as the Postgres one. Set FailWith to make every call fail.
type Memory struct {
	mu            sync.Mutex
	clk           clock.Clock
	artists       map[string]*Artist
	albums        map[string]*Album
	albumsByID    map[uuid.UUID]*Album
	tracks        map[string]*Track
	tracksByID    map[uuid.UUID]*Track
	claims        map[string]uuid.UUID
	producers     map[string]*Producer
	producersByID map[uuid.UUID]*Producer
	attachments   map[string]*Attachment

	FailWith error
}

// NewMemory returns an empty Memory store. A nil clk means the system
// clock.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.System()
	}
	return &Memory{
		clk:           clk,
		artists:       make(map[string]*Artist),
		albums:        make(map[string]*Album),
		albumsByID:    make(map[uuid.UUID]*Album),
		tracks:        make(map[string]*Track),
		tracksByID:    make(map[uuid.UUID]*Track),
		claims:        make(map[string]uuid.UUID),
		producers:     make(map[string]*Producer),
		producersByID: make(map[uuid.UUID]*Producer),
		attachments:   make(map[string]*Attachment),
	}
}

func (m *Memory) UpsertArtist(_ context.Context, in ArtistUpsert) (*Artist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if in.SpotifyID == "" {
		return nil, errcat.New(errcat.Validation, "artist spotify id is empty")
	}

	now := m.clk.Now()
	if a, ok := m.artists[in.SpotifyID]; ok {
		a.Name = in.Name
		a.UpdatedAt = now
		return cloneArtist(a), nil
	}
	a := &Artist{ID: uuid.New(), SpotifyID: in.SpotifyID, Name: in.Name, CreatedAt: now, UpdatedAt: now}
	m.artists[in.SpotifyID] = a
	return cloneArtist(a), nil
}

func (m *Memory) ArtistBySpotifyID(_ context.Context, spotifyID string) (*Artist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	a, ok := m.artists[spotifyID]
	if !ok {
		return nil, nil
	}
	return cloneArtist(a), nil
}

func (m *Memory) UpsertAlbum(_ context.Context, in AlbumUpsert) (*Album, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if in.SpotifyID == "" {
		return nil, errcat.New(errcat.Validation, "album spotify id is empty")
	}

	now := m.clk.Now()
	if a, ok := m.albums[in.SpotifyID]; ok {
		a.Name = in.Name
		a.AlbumType = in.AlbumType
		a.ReleaseDate = in.ReleaseDate
		a.TotalTracks = in.TotalTracks
		a.UpdatedAt = now
		return cloneAlbum(a), nil
	}
	a := &Album{
		ID: uuid.New(), SpotifyID: in.SpotifyID, ArtistID: in.ArtistID,
		Name: in.Name, AlbumType: in.AlbumType, ReleaseDate: in.ReleaseDate,
		TotalTracks: in.TotalTracks, CreatedAt: now, UpdatedAt: now,
	}
	m.albums[in.SpotifyID] = a
	m.albumsByID[a.ID] = a
	return cloneAlbum(a), nil
}

func (m *Memory) AlbumByID(_ context.Context, id uuid.UUID) (*Album, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	a, ok := m.albumsByID[id]
	if !ok {
		return nil, nil
	}
	return cloneAlbum(a), nil
}

func (m *Memory) UpsertTrack(_ context.Context, in TrackUpsert) (*Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	if in.SpotifyID == "" {
		return nil, errcat.New(errcat.Validation, "track spotify id is empty")
	}

	now := m.clk.Now()
	if t, ok := m.tracks[in.SpotifyID]; ok {
		t.Name = in.Name
		t.DurationMS = in.DurationMS
		t.TrackNumber = in.TrackNumber
		t.DiscNumber = in.DiscNumber
		t.UpdatedAt = now
		return cloneTrack(t), nil
	}
	t := &Track{
		ID: uuid.New(), SpotifyID: in.SpotifyID, AlbumID: in.AlbumID,
		Name: in.Name, DurationMS: in.DurationMS, TrackNumber: in.TrackNumber,
		DiscNumber: in.DiscNumber, CreatedAt: now, UpdatedAt: now,
	}
	m.tracks[in.SpotifyID] = t
	m.tracksByID[t.ID] = t
	return cloneTrack(t), nil
}

func (m *Memory) TrackByID(_ context.Context, id uuid.UUID) (*Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	t, ok := m.tracksByID[id]
	if !ok {
		return nil, nil
	}
	return cloneTrack(t), nil
}

func (m *Memory) ClaimTrackName(_ context.Context, artistID uuid.UUID, normalizedName string, trackID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return false, m.FailWith
	}
	if normalizedName == "" {
		return false, errcat.New(errcat.Validation, "normalized name is empty")
	}

	key := artistID.String() + "|" + normalizedName
	if _, ok := m.claims[key]; ok {
		return false, nil
	}
	m.claims[key] = trackID
	return true, nil
}

func (m *Memory) MergeProducer(_ context.Context, in ProducerInput) (*Producer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	normalized := normalize.Title(in.Name)
	if normalized == "" {
		return nil, errcat.Newf(errcat.Validation, "producer name %q normalizes to nothing", in.Name)
	}

	now := m.clk.Now()
	if p, ok := m.producers[normalized]; ok {
		p.Meta.merge(in)
		if p.Name == "" {
			p.Name = in.Name
		}
		p.UpdatedAt = now
		return cloneProducer(p), nil
	}

	p := &Producer{ID: uuid.New(), NormalizedName: normalized, Name: in.Name, CreatedAt: now, UpdatedAt: now}
	p.Meta.merge(in)
	m.producers[normalized] = p
	m.producersByID[p.ID] = p
	return cloneProducer(p), nil
}

func (m *Memory) ProducerByID(_ context.Context, id uuid.UUID) (*Producer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	p, ok := m.producersByID[id]
	if !ok {
		return nil, nil
	}
	return cloneProducer(p), nil
}

func (m *Memory) AttachProducer(_ context.Context, trackID, producerID uuid.UUID, source, role string, confidence float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	key := trackID.String() + "|" + producerID.String() + "|" + source
	if a, ok := m.attachments[key]; ok {
		if confidence > a.Confidence {
			a.Confidence = confidence
		}
		a.Role = role
		return nil
	}
	m.attachments[key] = &Attachment{
		TrackID: trackID, ProducerID: producerID,
		Source: source, Role: role, Confidence: confidence,
	}
	return nil
}

func (m *Memory) SaveSocials(_ context.Context, producerID uuid.UUID, profile SocialProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}

	p, ok := m.producersByID[producerID]
	if !ok {
		return errcat.Newf(errcat.MissingRecord, "producer %s not found", producerID)
	}
	now := m.clk.Now()
	p.InstagramName = profile.InstagramName
	p.TwitterName = profile.TwitterName
	p.FollowersCount = profile.FollowersCount
	p.EnrichmentFailed = profile.Failed
	p.EnrichedAt = &now
	p.UpdatedAt = now
	return nil
}

// Attachments returns every track-producer link, for assertions.
func (m *Memory) Attachments() []Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Attachment, 0, len(m.attachments))
	for _, a := range m.attachments {
		out = append(out, *a)
	}
	return out
}

func cloneArtist(a *Artist) *Artist {
	c := *a
	return &c
}

func cloneAlbum(a *Album) *Album {
	c := *a
	if a.ReleaseDate != nil {
		t := *a.ReleaseDate
		c.ReleaseDate = &t
	}
	return &c
}

func cloneTrack(t *Track) *Track {
	c := *t
	return &c
}

func cloneProducer(p *Producer) *Producer {
	c := *p
	c.Meta = ProducerMeta{
		Roles:       slices.Clone(p.Meta.Roles),
		Sources:     slices.Clone(p.Meta.Sources),
		ExternalIDs: maps.Clone(p.Meta.ExternalIDs),
		Confidence:  maps.Clone(p.Meta.Confidence),
	}
	if p.EnrichedAt != nil {
		t := *p.EnrichedAt
		c.EnrichedAt = &t
	}
	return &c
}
