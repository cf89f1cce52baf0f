// SPDX-License-Identifier: MIT

// Package queue provides the message-queue primitives the pipeline runs
// on: a Postgres implementation over the pgmq extension and an in-memory
// implementation with the same visibility-timeout semantics for tests.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Message is one leased queue message. ReadCount counts deliveries
// including the current one, so a message seen for the first time
// carries ReadCount 1.
type Message struct {
	ID         int64
	ReadCount  int64
	EnqueuedAt time.Time
	VisibleAt  time.Time
	Body       json.RawMessage
}

// Stats is a point-in-time snapshot of one queue.
type Stats struct {
	Queue         string
	Depth         int64
	OldestAge     time.Duration
	TotalMessages int64
}

// Queue is the operation set every stage worker consumes. Send returns
// the new message id. Read leases up to qty messages for vt; a leased
// message reappears after vt unless archived. Archive reports whether
// the message existed.
type Queue interface {
	Send(ctx context.Context, queue string, body json.RawMessage) (int64, error)
	Read(ctx context.Context, queue string, vt time.Duration, qty int) ([]Message, error)
	Archive(ctx context.Context, queue string, msgID int64) (bool, error)
	SetVT(ctx context.Context, queue string, msgID int64, vt time.Duration) error
	Create(ctx context.Context, queue string) error
	DropAndRecreate(ctx context.Context, queue string) error
	Stats(ctx context.Context, queue string) (Stats, error)
	Stalled(ctx context.Context, queue string, olderThan time.Duration) ([]Message, error)
}

// Pipeline queue names, in stage order.
const (
	ArtistDiscovery        = "artist_discovery"
	AlbumDiscovery         = "album_discovery"
	TrackDiscovery         = "track_discovery"
	ProducerIdentification = "producer_identification"
	SocialEnrichment       = "social_enrichment"
)

// All lists every pipeline queue in stage order.
func All() []string {
	return []string{
		ArtistDiscovery,
		AlbumDiscovery,
		TrackDiscovery,
		ProducerIdentification,
		SocialEnrichment,
	}
}

// pgmq prefixes queue tables with "pgmq.q_", which caps usable names
// well below the identifier limit.
const maxNameLen = 47

var nameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateName rejects queue names that cannot form a safe pgmq table
// identifier.
func ValidateName(queue string) error {
	if queue == "" {
		return fmt.Errorf("queue: name is empty")
	}
	if len(queue) > maxNameLen {
		return fmt.Errorf("queue: name %q exceeds %d characters", queue, maxNameLen)
	}
	if !nameRe.MatchString(queue) {
		return fmt.Errorf("queue: invalid name %q", queue)
	}
	return nil
}
