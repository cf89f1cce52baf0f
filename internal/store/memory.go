// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/crateworks/linernotes/internal/telemetry"
)

// Memory is an in-process Recorder and SpanSink for tests. Every write
// lands in an exported slice guarded by one mutex.
type Memory struct {
	mu sync.Mutex

	QueueMetrics   []QueueMetric
	QueueDepths    []DepthRecord
	DeadLetters    []DeadLetterItem
	WorkerIssues   []IssueRecord
	Maintenance    []MaintenanceRecord
	QueueHealth    []HealthRecord
	Validations    []ValidationRecord
	Spans          []telemetry.SpanRecord
	PruneCutoffs   []time.Time
	PruneRowsTotal int64

	// FailWith, when set, is returned by every write call.
	FailWith error
}

// DepthRecord mirrors one queue_depth_metrics row.
type DepthRecord struct {
	SourceQueue string
	TargetQueue string
	Depth       int64
}

// IssueRecord mirrors one worker_issues row.
type IssueRecord struct {
	Queue     string
	MsgID     int64
	IssueType string
	Details   any
}

// MaintenanceRecord mirrors one maintenance_logs row.
type MaintenanceRecord struct {
	Task    string
	Status  string
	Details any
}

// HealthRecord mirrors one queue_health_logs row.
type HealthRecord struct {
	Queue        string
	Pending      int64
	OldestAgeSec float64
	Details      any
}

// ValidationRecord mirrors one validation_reports row.
type ValidationRecord struct {
	Queue   string
	MsgID   int64
	Errors  []string
	Message json.RawMessage
}

// NewMemory returns an empty in-process recorder.
func NewMemory() *Memory {
	return &Memory{}
}

var (
	_ Recorder           = (*Memory)(nil)
	_ telemetry.SpanSink = (*Memory)(nil)
)

func (m *Memory) RecordQueueMetric(_ context.Context, metric QueueMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.QueueMetrics = append(m.QueueMetrics, metric)
	return nil
}

func (m *Memory) RecordQueueDepth(_ context.Context, sourceQueue, targetQueue string, depth int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.QueueDepths = append(m.QueueDepths, DepthRecord{sourceQueue, targetQueue, depth})
	return nil
}

func (m *Memory) InsertDeadLetter(_ context.Context, item DeadLetterItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.DeadLetters = append(m.DeadLetters, item)
	return nil
}

func (m *Memory) RecordWorkerIssue(_ context.Context, queue string, msgID int64, issueType string, details any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.WorkerIssues = append(m.WorkerIssues, IssueRecord{queue, msgID, issueType, details})
	return nil
}

func (m *Memory) RecordMaintenanceLog(_ context.Context, task, status string, details any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.Maintenance = append(m.Maintenance, MaintenanceRecord{task, status, details})
	return nil
}

func (m *Memory) RecordQueueHealth(_ context.Context, queue string, pending int64, oldestAgeSec float64, details any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.QueueHealth = append(m.QueueHealth, HealthRecord{queue, pending, oldestAgeSec, details})
	return nil
}

func (m *Memory) RecordValidationReport(_ context.Context, queue string, msgID int64, validationErrors []string, message json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.Validations = append(m.Validations, ValidationRecord{queue, msgID, validationErrors, message})
	return nil
}

func (m *Memory) DeadLetterCounts(context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	counts := make(map[string]int64)
	for _, d := range m.DeadLetters {
		counts[d.Queue]++
	}
	return counts, nil
}

func (m *Memory) MetricsSummary(_ context.Context, since time.Time) ([]QueueMetricSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	byQueue := make(map[string]*QueueMetricSummary)
	for _, qm := range m.QueueMetrics {
		s, ok := byQueue[qm.Queue]
		if !ok {
			s = &QueueMetricSummary{Queue: qm.Queue}
			byQueue[qm.Queue] = s
		}
		s.Total++
		if qm.Status == StatusError {
			s.Errors++
		}
		s.AvgMS += float64(qm.ProcessingMS)
		if qm.ProcessingMS > s.MaxMS {
			s.MaxMS = qm.ProcessingMS
		}
	}
	out := make([]QueueMetricSummary, 0, len(byQueue))
	for _, s := range byQueue {
		if s.Total > 0 {
			s.AvgMS /= float64(s.Total)
		}
		out = append(out, *s)
	}
	return out, nil
}

func (m *Memory) PruneAppendOnly(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return 0, m.FailWith
	}
	m.PruneCutoffs = append(m.PruneCutoffs, olderThan)
	return m.PruneRowsTotal, nil
}

func (m *Memory) SaveSpans(_ context.Context, spans []telemetry.SpanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.Spans = append(m.Spans, spans...)
	return nil
}

// LastDeadLetter returns the most recent dead letter, nil when none.
func (m *Memory) LastDeadLetter() *DeadLetterItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.DeadLetters) == 0 {
		return nil
	}
	item := m.DeadLetters[len(m.DeadLetters)-1]
	return &item
}
