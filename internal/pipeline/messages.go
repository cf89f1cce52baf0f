// SPDX-License-Identifier: MIT

// Package pipeline is the queue-worker spine: typed stage messages, the
// trace-context envelope they travel in, and the generic worker that
// polls, validates, dispatches and settles them.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/crateworks/linernotes/internal/telemetry"
)

// ArtistMessage seeds the pipeline. Exactly one of the two fields is
// enough: a Spotify artist id goes straight to the catalog, a bare name
// is resolved through search first.
type ArtistMessage struct {
	ArtistID   string `json:"artistId,omitempty" validate:"required_without=ArtistName"`
	ArtistName string `json:"artistName,omitempty" validate:"required_without=ArtistID"`
}

// AlbumMessage asks for one page of an artist's releases.
type AlbumMessage struct {
	ArtistID string `json:"artistId" validate:"required"`
	Offset   int    `json:"offset" validate:"gte=0"`
}

// TrackMessage asks for one page of an album's tracks.
type TrackMessage struct {
	AlbumSpotifyID  string    `json:"albumSpotifyId" validate:"required"`
	AlbumUUID       uuid.UUID `json:"albumUuid" validate:"required"`
	AlbumName       string    `json:"albumName"`
	ArtistSpotifyID string    `json:"artistSpotifyId" validate:"required"`
	Offset          int       `json:"offset" validate:"gte=0"`
}

// ProducerMessage asks for the production credits of one track.
type ProducerMessage struct {
	TrackSpotifyID  string    `json:"trackSpotifyId" validate:"required"`
	TrackUUID       uuid.UUID `json:"trackUuid" validate:"required"`
	TrackName       string    `json:"trackName" validate:"required"`
	AlbumSpotifyID  string    `json:"albumSpotifyId"`
	ArtistSpotifyID string    `json:"artistSpotifyId" validate:"required"`
}

// SocialMessage asks for the social profile of one producer.
type SocialMessage struct {
	ProducerID   uuid.UUID `json:"producerId" validate:"required"`
	ProducerName string    `json:"producerName,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json field names so validation_reports rows match the wire
	// shape rather than Go struct fields.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a decoded payload against its schema tags and returns
// one problem string per violated rule, nil when the payload is valid.
func Validate(payload any) []string {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("%s: failed rule %q", fe.Field(), fe.Tag()))
	}
	return problems
}

// Wrap marshals payload and, when a trace context is present, attaches
// it under the traceContext key so the receiving stage can link spans.
func Wrap(payload any, tc *telemetry.TraceContext) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode message: %w", err)
	}
	if tc == nil {
		return body, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("pipeline: message payload must be a JSON object: %w", err)
	}
	raw, err := json.Marshal(tc)
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode trace context: %w", err)
	}
	fields["traceContext"] = raw
	return json.Marshal(fields)
}

// TraceContextOf pulls the traceContext field out of a message body.
// Returns nil for messages without one or with an unreadable body; the
// payload decode reports those separately.
func TraceContextOf(body json.RawMessage) *telemetry.TraceContext {
	var probe struct {
		TraceContext *telemetry.TraceContext `json:"traceContext"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil
	}
	return probe.TraceContext
}
