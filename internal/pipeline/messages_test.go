// SPDX-License-Identifier: MIT

package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crateworks/linernotes/internal/telemetry"
)

func TestValidate_ArtistMessageNeedsIDOrName(t *testing.T) {
	assert.Nil(t, Validate(ArtistMessage{ArtistID: "3TVXtAsR1Inumwj472S9r4"}))
	assert.Nil(t, Validate(ArtistMessage{ArtistName: "Drake"}))

	problems := Validate(ArtistMessage{})
	require.Len(t, problems, 2)
	assert.Contains(t, problems[0], "artistId")
	assert.Contains(t, problems[1], "artistName")
}

func TestValidate_ReportsJSONFieldNames(t *testing.T) {
	problems := Validate(AlbumMessage{Offset: -3})
	require.Len(t, problems, 2)
	assert.Contains(t, problems[0], "artistId")
	assert.Contains(t, problems[1], "offset")
}

func TestValidate_TrackMessage(t *testing.T) {
	msg := TrackMessage{
		AlbumSpotifyID:  "alb",
		AlbumUUID:       uuid.New(),
		ArtistSpotifyID: "art",
	}
	assert.Nil(t, Validate(msg))

	msg.AlbumUUID = uuid.Nil
	problems := Validate(msg)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "albumUuid")
}

func TestWrap_AttachesTraceContext(t *testing.T) {
	tc := &telemetry.TraceContext{
		TraceID: "0af7651916cd43dd8448eb211c80319c",
		SpanID:  "b7ad6b7169203331",
	}
	body, err := Wrap(AlbumMessage{ArtistID: "a1", Offset: 20}, tc)
	require.NoError(t, err)

	var msg AlbumMessage
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, "a1", msg.ArtistID)
	assert.Equal(t, 20, msg.Offset)

	got := TraceContextOf(body)
	require.NotNil(t, got)
	assert.Equal(t, tc.TraceID, got.TraceID)
	assert.Equal(t, tc.SpanID, got.SpanID)
}

func TestWrap_NoTraceContextLeavesBodyBare(t *testing.T) {
	body, err := Wrap(SocialMessage{ProducerID: uuid.New()}, nil)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "traceContext")
	assert.Nil(t, TraceContextOf(body))
}

func TestTraceContextOf_MalformedBody(t *testing.T) {
	assert.Nil(t, TraceContextOf(json.RawMessage(`not json`)))
}
