// SPDX-License-Identifier: MIT

package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/errcat"
)

func newTestStore(t *testing.T) (*Memory, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewMemory(clk), clk
}

func TestUpsertArtist_SecondWriteKeepsIdentity(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertArtist(ctx, ArtistUpsert{SpotifyID: "3TVXtAsR1Inumwj472S9r4", Name: "Drake"})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	second, err := store.UpsertArtist(ctx, ArtistUpsert{SpotifyID: "3TVXtAsR1Inumwj472S9r4", Name: "Drake (updated)"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "Drake (updated)", second.Name)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestUpsertArtist_EmptySpotifyID(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.UpsertArtist(context.Background(), ArtistUpsert{Name: "nameless"})
	require.Error(t, err)
	assert.Equal(t, errcat.Validation, errcat.CategoryOf(err))
}

func TestArtistBySpotifyID_AbsentIsNilNil(t *testing.T) {
	store, _ := newTestStore(t)

	got, err := store.ArtistBySpotifyID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertAlbum_RefreshesMutableFields(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	artist, err := store.UpsertArtist(ctx, ArtistUpsert{SpotifyID: "a1", Name: "Drake"})
	require.NoError(t, err)

	release := time.Date(2015, 2, 13, 0, 0, 0, 0, time.UTC)
	first, err := store.UpsertAlbum(ctx, AlbumUpsert{
		SpotifyID: "alb1", ArtistID: artist.ID, Name: "If You're Reading This",
		AlbumType: "album", ReleaseDate: &release, TotalTracks: 17,
	})
	require.NoError(t, err)

	second, err := store.UpsertAlbum(ctx, AlbumUpsert{
		SpotifyID: "alb1", ArtistID: artist.ID, Name: "If You're Reading This It's Too Late",
		AlbumType: "album", ReleaseDate: &release, TotalTracks: 17,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "If You're Reading This It's Too Late", second.Name)

	byID, err := store.AlbumByID(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, second.Name, byID.Name)
}

func TestClaimTrackName_FirstCallerWins(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	artistID := uuid.New()

	won, err := store.ClaimTrackName(ctx, artistID, "energy", uuid.New())
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.ClaimTrackName(ctx, artistID, "energy", uuid.New())
	require.NoError(t, err)
	assert.False(t, won)

	// Same title under another artist is a separate claim.
	won, err = store.ClaimTrackName(ctx, uuid.New(), "energy", uuid.New())
	require.NoError(t, err)
	assert.True(t, won)
}

func TestClaimTrackName_EmptyNameRejected(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.ClaimTrackName(context.Background(), uuid.New(), "", uuid.New())
	require.Error(t, err)
	assert.Equal(t, errcat.Validation, errcat.CategoryOf(err))
}

func TestMergeProducer_CollapsesNameVariants(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.MergeProducer(ctx, ProducerInput{
		Name: "Boi-1da", Source: "genius", Role: "producer", Confidence: 0.9, ExternalID: "42",
	})
	require.NoError(t, err)

	second, err := store.MergeProducer(ctx, ProducerInput{
		Name: "BOI 1DA", Source: "spotify", Role: "writer", Confidence: 0.7, ExternalID: "sp-9",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Boi-1da", second.Name, "first-seen display name survives")
	assert.ElementsMatch(t, []string{"producer", "writer"}, second.Meta.Roles)
	assert.ElementsMatch(t, []string{"genius", "spotify"}, second.Meta.Sources)
	assert.Equal(t, "42", second.Meta.ExternalIDs["genius"])
	assert.Equal(t, "sp-9", second.Meta.ExternalIDs["spotify"])
}

func TestMergeProducer_MetaFoldRules(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.MergeProducer(ctx, ProducerInput{
		Name: "Cardo", Source: "genius", Role: "producer", Confidence: 0.5, ExternalID: "g-1",
	})
	require.NoError(t, err)

	// Higher confidence replaces, duplicate role does not repeat, and
	// the external id for a source is first-seen.
	got, err := store.MergeProducer(ctx, ProducerInput{
		Name: "Cardo", Source: "genius", Role: "producer", Confidence: 0.95, ExternalID: "g-other",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"producer"}, got.Meta.Roles)
	assert.Equal(t, []string{"genius"}, got.Meta.Sources)
	assert.Equal(t, "g-1", got.Meta.ExternalIDs["genius"])
	assert.InDelta(t, 0.95, got.Meta.Confidence["genius"], 1e-9)

	// Lower confidence never downgrades.
	got, err = store.MergeProducer(ctx, ProducerInput{
		Name: "Cardo", Source: "genius", Role: "producer", Confidence: 0.2,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.95, got.Meta.Confidence["genius"], 1e-9)
}

func TestMergeProducer_UnrepresentableName(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.MergeProducer(context.Background(), ProducerInput{Name: "(((", Source: "genius"})
	require.Error(t, err)
	assert.Equal(t, errcat.Validation, errcat.CategoryOf(err))
}

func TestAttachProducer_KeepsHighestConfidence(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	trackID, producerID := uuid.New(), uuid.New()

	require.NoError(t, store.AttachProducer(ctx, trackID, producerID, "genius", "producer", 0.6))
	require.NoError(t, store.AttachProducer(ctx, trackID, producerID, "genius", "producer", 0.9))
	require.NoError(t, store.AttachProducer(ctx, trackID, producerID, "genius", "producer", 0.3))

	links := store.Attachments()
	require.Len(t, links, 1)
	assert.InDelta(t, 0.9, links[0].Confidence, 1e-9)

	// A different source is its own link.
	require.NoError(t, store.AttachProducer(ctx, trackID, producerID, "spotify", "producer", 0.5))
	assert.Len(t, store.Attachments(), 2)
}

func TestSaveSocials_SetsProfileAndTimestamp(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()

	p, err := store.MergeProducer(ctx, ProducerInput{Name: "Boi-1da", Source: "genius", Role: "producer", Confidence: 1})
	require.NoError(t, err)

	clk.Advance(time.Minute)
	err = store.SaveSocials(ctx, p.ID, SocialProfile{
		InstagramName: "boi1da", TwitterName: "Boi1da", FollowersCount: 1287,
	})
	require.NoError(t, err)

	got, err := store.ProducerByID(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "boi1da", got.InstagramName)
	assert.Equal(t, "Boi1da", got.TwitterName)
	assert.Equal(t, 1287, got.FollowersCount)
	assert.False(t, got.EnrichmentFailed)
	require.NotNil(t, got.EnrichedAt)
	assert.Equal(t, clk.Now(), *got.EnrichedAt)
}

func TestSaveSocials_FailedEnrichmentStillStamps(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	p, err := store.MergeProducer(ctx, ProducerInput{Name: "Unknown Knob Twister", Source: "genius"})
	require.NoError(t, err)

	require.NoError(t, store.SaveSocials(ctx, p.ID, SocialProfile{Failed: true}))

	got, err := store.ProducerByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.EnrichmentFailed)
	assert.NotNil(t, got.EnrichedAt)
	assert.Empty(t, got.InstagramName)
}

func TestSaveSocials_MissingProducer(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.SaveSocials(context.Background(), uuid.New(), SocialProfile{Failed: true})
	require.Error(t, err)
	assert.Equal(t, errcat.MissingRecord, errcat.CategoryOf(err))
	assert.False(t, errcat.IsRetryable(err))
}

func TestMemory_ClonesEscapeInternalState(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	p, err := store.MergeProducer(ctx, ProducerInput{
		Name: "Cardo", Source: "genius", Role: "producer", Confidence: 0.5, ExternalID: "g-1",
	})
	require.NoError(t, err)

	want, err := store.ProducerByID(ctx, p.ID)
	require.NoError(t, err)

	// Mutating the returned value must not reach the stored row.
	p.Meta.Roles[0] = "mangled"
	p.Meta.ExternalIDs["genius"] = "mangled"
	p.Name = "mangled"

	got, err := store.ProducerByID(ctx, p.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("stored producer changed through an escaped reference (-want +got):\n%s", diff)
	}
}
