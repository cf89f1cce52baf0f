// SPDX-License-Identifier: MIT

package stages

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crateworks/linernotes/internal/catalog"
	"github.com/crateworks/linernotes/internal/errcat"
	"github.com/crateworks/linernotes/internal/genius"
	"github.com/crateworks/linernotes/internal/pipeline"
)

func socialFixture(t *testing.T, h *harness, externalID string) *catalog.Producer {
	t.Helper()
	p, err := h.cat.MergeProducer(context.Background(), catalog.ProducerInput{
		Name: "Boi-1da", Source: "genius", Role: "producer",
		Confidence: 1, ExternalID: externalID,
	})
	require.NoError(t, err)
	return p
}

func TestSocial_WritesProfile(t *testing.T) {
	h := newHarness(t)
	p := socialFixture(t, h, "42")
	h.gen.artists[42] = &genius.Artist{
		ID: 42, Name: "Boi-1da",
		InstagramName: "boi1da", TwitterName: "Boi1da", FollowersCount: 1287,
	}
	stage := NewSocial(h.gen, h.cat)

	err := stage.Handle(context.Background(), pipeline.SocialMessage{
		ProducerID: p.ID, ProducerName: p.Name,
	})
	require.NoError(t, err)

	got, err := h.cat.ProducerByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "boi1da", got.InstagramName)
	assert.Equal(t, "Boi1da", got.TwitterName)
	assert.Equal(t, 1287, got.FollowersCount)
	assert.False(t, got.EnrichmentFailed)
	assert.NotNil(t, got.EnrichedAt)
}

func TestSocial_NoGeniusIDMarksFailed(t *testing.T) {
	h := newHarness(t)
	p := socialFixture(t, h, "")
	stage := NewSocial(h.gen, h.cat)

	err := stage.Handle(context.Background(), pipeline.SocialMessage{ProducerID: p.ID})
	require.NoError(t, err, "unresolvable profile is still a success")

	got, err := h.cat.ProducerByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, got.EnrichmentFailed)
	assert.NotNil(t, got.EnrichedAt, "stamped so the stage never loops on it")
}

func TestSocial_ProfileGoneMarksFailed(t *testing.T) {
	h := newHarness(t)
	p := socialFixture(t, h, "42")
	stage := NewSocial(h.gen, h.cat)

	err := stage.Handle(context.Background(), pipeline.SocialMessage{ProducerID: p.ID})
	require.NoError(t, err)

	got, err := h.cat.ProducerByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, got.EnrichmentFailed)
}

func TestSocial_RetryableErrorPropagates(t *testing.T) {
	h := newHarness(t)
	p := socialFixture(t, h, "42")
	h.gen.err = errcat.New(errcat.Timeout, "genius is down")
	stage := NewSocial(h.gen, h.cat)

	err := stage.Handle(context.Background(), pipeline.SocialMessage{ProducerID: p.ID})
	require.Error(t, err)
	assert.True(t, errcat.IsRetryable(err))

	got, err := h.cat.ProducerByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.EnrichedAt, "nothing written on a retryable failure")
}

func TestSocial_MissingProducerRowIsPermanent(t *testing.T) {
	h := newHarness(t)
	stage := NewSocial(h.gen, h.cat)

	err := stage.Handle(context.Background(), pipeline.SocialMessage{ProducerID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, errcat.MissingRecord, errcat.CategoryOf(err))
}

func TestSocial_DisabledGeniusLeavesRowUntouched(t *testing.T) {
	h := newHarness(t)
	p := socialFixture(t, h, "42")
	h.gen.enabled = false
	stage := NewSocial(h.gen, h.cat)

	require.NoError(t, stage.Handle(context.Background(), pipeline.SocialMessage{ProducerID: p.ID}))

	got, err := h.cat.ProducerByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.EnrichedAt)
	assert.False(t, got.EnrichmentFailed)
}
