// SPDX-License-Identifier: MIT

package daemon_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crateworks/linernotes/internal/daemon"
	"github.com/crateworks/linernotes/internal/pipeline"
)

type idleRunner struct {
	queue string
	ran   chan struct{}
}

func (r *idleRunner) Queue() string           { return r.queue }
func (r *idleRunner) Config() pipeline.Config { return pipeline.Config{Queue: r.queue} }

func (r *idleRunner) RunOnce(context.Context) (int, error) { return 0, nil }

func (r *idleRunner) Run(ctx context.Context, _ time.Duration) error {
	select {
	case r.ran <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestNewRejectsMissingComponents(t *testing.T) {
	runners := map[string]pipeline.Runner{
		"artist_discovery": &idleRunner{queue: "artist_discovery", ran: make(chan struct{}, 1)},
	}

	_, err := daemon.New(daemon.Config{}, nil, runners, nil)
	require.Error(t, err)

	_, err = daemon.New(daemon.Config{}, http.NotFoundHandler(), nil, nil)
	require.Error(t, err)
}

func TestRunStopsCleanlyOnCancel(t *testing.T) {
	r := &idleRunner{queue: "artist_discovery", ran: make(chan struct{}, 1)}
	app, err := daemon.New(
		daemon.Config{ListenAddr: "127.0.0.1:0", ShutdownTimeout: 2 * time.Second},
		http.NotFoundHandler(),
		map[string]pipeline.Runner{r.queue: r},
		nil,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case <-r.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("stage worker never started")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation must read as a clean shutdown")
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}
}
