// SPDX-License-Identifier: MIT

package maintenance_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/crateworks/linernotes/internal/clock"
	"github.com/crateworks/linernotes/internal/maintenance"
	"github.com/crateworks/linernotes/internal/queue"
	"github.com/crateworks/linernotes/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	q   *queue.Memory
	rec *store.Memory
	clk *clock.Fake
}

func newFixture() *fixture {
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return &fixture{
		q:   queue.NewMemory(clk),
		rec: store.NewMemory(),
		clk: clk,
	}
}

func (f *fixture) loop(t *testing.T, cfg maintenance.Config) *maintenance.Loop {
	t.Helper()
	cfg.Clock = f.clk
	l, err := maintenance.New(f.q, f.rec, cfg)
	require.NoError(t, err)
	return l
}

// lease sends one message and reads it back so it sits on a visibility
// timeout, returning the message id.
func (f *fixture) lease(t *testing.T, queueName string, vt time.Duration) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.q.Send(ctx, queueName, json.RawMessage(`{}`))
	require.NoError(t, err)
	msgs, err := f.q.Read(ctx, queueName, vt, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, id, msgs[0].ID)
	return id
}

// maintRows filters the recorded maintenance_logs rows by task name.
func maintRows(rec *store.Memory, task string) []store.MaintenanceRecord {
	var out []store.MaintenanceRecord
	for _, r := range rec.Maintenance {
		if r.Task == task {
			out = append(out, r)
		}
	}
	return out
}

func TestRunOnce_RecoversAbandonedMessages(t *testing.T) {
	f := newFixture()
	l := f.loop(t, maintenance.Config{})
	ctx := context.Background()

	// Leased at t0 with a 60s timeout, then nothing for 45 minutes: the
	// worker that held it is gone.
	stalledID := f.lease(t, queue.ArtistDiscovery, time.Minute)
	f.clk.Advance(45 * time.Minute)

	// A lease that is still running must be left alone, as must a message
	// nobody has read yet.
	f.lease(t, queue.AlbumDiscovery, time.Minute)
	_, err := f.q.Send(ctx, queue.ArtistDiscovery, json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, l.RunOnce(ctx))

	require.Len(t, f.rec.WorkerIssues, 1)
	issue := f.rec.WorkerIssues[0]
	assert.Equal(t, queue.ArtistDiscovery, issue.Queue)
	assert.Equal(t, stalledID, issue.MsgID)
	assert.Equal(t, "stalled_message_recovered", issue.IssueType)
	details, ok := issue.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "44m0s", details["stalledFor"])

	rows := maintRows(f.rec, "stalled_recovery")
	require.Len(t, rows, 1)
	assert.Equal(t, "ok", rows[0].Status)

	// Recovery cleared the visibility timeout, so a second pass finds
	// nothing to do.
	require.NoError(t, l.RunOnce(ctx))
	assert.Len(t, f.rec.WorkerIssues, 1)
	assert.Len(t, maintRows(f.rec, "stalled_recovery"), 1)

	// The recovered message is deliverable again, next to the one nobody
	// had read yet.
	msgs, err := f.q.Read(ctx, queue.ArtistDiscovery, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, stalledID, msgs[0].ID)
}

func TestRunOnce_SnapshotsEveryQueue(t *testing.T) {
	f := newFixture()
	l := f.loop(t, maintenance.Config{})
	ctx := context.Background()

	for range 2 {
		_, err := f.q.Send(ctx, queue.TrackDiscovery, json.RawMessage(`{}`))
		require.NoError(t, err)
	}
	f.clk.Advance(90 * time.Second)

	require.NoError(t, l.RunOnce(ctx))

	require.Len(t, f.rec.QueueHealth, len(queue.All()))
	byQueue := make(map[string]store.HealthRecord)
	for _, h := range f.rec.QueueHealth {
		byQueue[h.Queue] = h
	}
	track := byQueue[queue.TrackDiscovery]
	assert.Equal(t, int64(2), track.Pending)
	assert.InDelta(t, 90.0, track.OldestAgeSec, 0.001)
	assert.Equal(t, int64(0), byQueue[queue.SocialEnrichment].Pending)
}

func TestRunOnce_RollsUpWindowMetrics(t *testing.T) {
	f := newFixture()
	l := f.loop(t, maintenance.Config{SummaryWindow: time.Hour})
	ctx := context.Background()

	seed := []store.QueueMetric{
		{Queue: queue.ArtistDiscovery, MsgID: 1, Status: store.StatusSuccess, ProcessingMS: 10},
		{Queue: queue.ArtistDiscovery, MsgID: 2, Status: store.StatusError, ProcessingMS: 30},
		{Queue: queue.AlbumDiscovery, MsgID: 3, Status: store.StatusSuccess, ProcessingMS: 20},
	}
	for _, m := range seed {
		require.NoError(t, f.rec.RecordQueueMetric(ctx, m))
	}

	require.NoError(t, l.RunOnce(ctx))

	rows := maintRows(f.rec, "metrics_rollup")
	require.Len(t, rows, 1)
	assert.Equal(t, "ok", rows[0].Status)

	details, ok := rows[0].Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1h0m0s", details["window"])

	queues, ok := details["queues"].([]map[string]any)
	require.True(t, ok)
	var artist map[string]any
	for _, q := range queues {
		if q["queue"] == queue.ArtistDiscovery {
			artist = q
		}
	}
	require.NotNil(t, artist)
	assert.Equal(t, int64(2), artist["processed"])
	assert.Equal(t, int64(1), artist["errors"])
	assert.InDelta(t, 0.5, artist["errorRate"], 0.001)
	assert.Equal(t, int64(30), artist["maxMs"])
}

func TestRunOnce_FlagsParkedDeadLetters(t *testing.T) {
	f := newFixture()
	l := f.loop(t, maintenance.Config{})
	ctx := context.Background()

	require.NoError(t, l.RunOnce(ctx))
	assert.Empty(t, maintRows(f.rec, "dead_letter_alert"))

	for i, q := range []string{queue.ProducerIdentification, queue.ProducerIdentification, queue.SocialEnrichment} {
		require.NoError(t, f.rec.InsertDeadLetter(ctx, store.DeadLetterItem{
			Queue: q, MsgID: int64(i + 1), Message: json.RawMessage(`{}`), FailCount: 6,
		}))
	}

	require.NoError(t, l.RunOnce(ctx))

	rows := maintRows(f.rec, "dead_letter_alert")
	require.Len(t, rows, 1)
	assert.Equal(t, "warning", rows[0].Status)
	details, ok := rows[0].Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(3), details["total"])
	counts, ok := details["counts"].(map[string]int64)
	require.True(t, ok)
	assert.Equal(t, int64(2), counts[queue.ProducerIdentification])
}

func TestRunOnce_PrunesOnItsOwnCadence(t *testing.T) {
	f := newFixture()
	f.rec.PruneRowsTotal = 42
	l := f.loop(t, maintenance.Config{
		Retention:  14 * 24 * time.Hour,
		PruneEvery: 24 * time.Hour,
	})
	ctx := context.Background()

	require.NoError(t, l.RunOnce(ctx))
	require.Len(t, f.rec.PruneCutoffs, 1)
	assert.Equal(t, f.clk.Now().Add(-14*24*time.Hour), f.rec.PruneCutoffs[0])

	rows := maintRows(f.rec, "retention_prune")
	require.Len(t, rows, 1)
	details, ok := rows[0].Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(42), details["removedRows"])

	// An hour later the day is not up yet.
	f.clk.Advance(time.Hour)
	require.NoError(t, l.RunOnce(ctx))
	assert.Len(t, f.rec.PruneCutoffs, 1)

	f.clk.Advance(23 * time.Hour)
	require.NoError(t, l.RunOnce(ctx))
	require.Len(t, f.rec.PruneCutoffs, 2)
	assert.Equal(t, f.clk.Now().Add(-14*24*time.Hour), f.rec.PruneCutoffs[1])
}

func TestRunOnce_RetentionZeroDisablesPruning(t *testing.T) {
	f := newFixture()
	l := f.loop(t, maintenance.Config{})

	require.NoError(t, l.RunOnce(context.Background()))
	f.clk.Advance(100 * 24 * time.Hour)
	require.NoError(t, l.RunOnce(context.Background()))

	assert.Empty(t, f.rec.PruneCutoffs)
	assert.Empty(t, maintRows(f.rec, "retention_prune"))
}

func TestRunOnce_RecorderOutageSurfacesError(t *testing.T) {
	f := newFixture()
	l := f.loop(t, maintenance.Config{})
	ctx := context.Background()

	stalledID := f.lease(t, queue.ArtistDiscovery, time.Minute)
	f.clk.Advance(45 * time.Minute)

	f.rec.FailWith = errors.New("db down")
	err := l.RunOnce(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "db down")

	// The queue side of the recovery still happened: the message is
	// visible again even though no issue row could be written.
	msgs, readErr := f.q.Read(ctx, queue.ArtistDiscovery, time.Minute, 10)
	require.NoError(t, readErr)
	require.Len(t, msgs, 1)
	assert.Equal(t, stalledID, msgs[0].ID)
	assert.Empty(t, f.rec.WorkerIssues)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := newFixture()
	l := f.loop(t, maintenance.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Run(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)

	// The cycle before the cancelled sleep still ran.
	assert.Len(t, f.rec.QueueHealth, len(queue.All()))
}

func TestNew_RejectsBadInput(t *testing.T) {
	f := newFixture()

	_, err := maintenance.New(nil, f.rec, maintenance.Config{})
	assert.Error(t, err)

	_, err = maintenance.New(f.q, nil, maintenance.Config{})
	assert.Error(t, err)

	_, err = maintenance.New(f.q, f.rec, maintenance.Config{Queues: []string{"no;such"}})
	assert.Error(t, err)
}
