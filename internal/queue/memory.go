// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crateworks/linernotes/internal/clock"
)

// Memory implements Queue in process with the same leasing semantics as
// pgmq: Read increments the delivery counter and hides the message until
// its visibility deadline, Archive removes it for good. Time comes from
// an injected clock so tests can replay timeout scenarios.
type Memory struct {
	clk clock.Clock

	mu     sync.Mutex
	nextID int64
	queues map[string][]*memMessage

	// SendErr, when set, fails every Send. Lets tests exercise the
	// enqueue error path.
	SendErr error
}

type memMessage struct {
	id         int64
	readCount  int64
	enqueuedAt time.Time
	visibleAt  time.Time
	body       json.RawMessage
	archived   bool
}

// NewMemory returns an empty in-process queue set on clk.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.System()
	}
	return &Memory{clk: clk, queues: make(map[string][]*memMessage)}
}

var _ Queue = (*Memory)(nil)

func (m *Memory) Send(_ context.Context, queue string, body json.RawMessage) (int64, error) {
	if err := ValidateName(queue); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return 0, m.SendErr
	}

	m.nextID++
	now := m.clk.Now()
	m.queues[queue] = append(m.queues[queue], &memMessage{
		id:         m.nextID,
		enqueuedAt: now,
		visibleAt:  now,
		body:       append(json.RawMessage(nil), body...),
	})
	return m.nextID, nil
}

func (m *Memory) Read(_ context.Context, queue string, vt time.Duration, qty int) ([]Message, error) {
	if err := ValidateName(queue); err != nil {
		return nil, err
	}
	if qty <= 0 {
		qty = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	var out []Message
	for _, msg := range m.queues[queue] {
		if len(out) >= qty {
			break
		}
		if msg.archived || msg.visibleAt.After(now) {
			continue
		}
		msg.readCount++
		msg.visibleAt = now.Add(vt)
		out = append(out, Message{
			ID:         msg.id,
			ReadCount:  msg.readCount,
			EnqueuedAt: msg.enqueuedAt,
			VisibleAt:  msg.visibleAt,
			Body:       append(json.RawMessage(nil), msg.body...),
		})
	}
	return out, nil
}

func (m *Memory) Archive(_ context.Context, queue string, msgID int64) (bool, error) {
	if err := ValidateName(queue); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.queues[queue] {
		if msg.id == msgID && !msg.archived {
			msg.archived = true
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) SetVT(_ context.Context, queue string, msgID int64, vt time.Duration) error {
	if err := ValidateName(queue); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.queues[queue] {
		if msg.id == msgID && !msg.archived {
			msg.visibleAt = m.clk.Now().Add(vt)
			return nil
		}
	}
	return fmt.Errorf("queue: message %d not found in %s", msgID, queue)
}

func (m *Memory) Create(_ context.Context, queue string) error {
	if err := ValidateName(queue); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[queue]; !ok {
		m.queues[queue] = nil
	}
	return nil
}

func (m *Memory) DropAndRecreate(_ context.Context, queue string) error {
	if err := ValidateName(queue); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[queue] = nil
	return nil
}

func (m *Memory) Stats(_ context.Context, queue string) (Stats, error) {
	if err := ValidateName(queue); err != nil {
		return Stats{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{Queue: queue}
	now := m.clk.Now()
	for _, msg := range m.queues[queue] {
		s.TotalMessages++
		if msg.archived {
			continue
		}
		s.Depth++
		if age := now.Sub(msg.enqueuedAt); age > s.OldestAge {
			s.OldestAge = age
		}
	}
	return s, nil
}

func (m *Memory) Stalled(_ context.Context, queue string, olderThan time.Duration) ([]Message, error) {
	if err := ValidateName(queue); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clk.Now().Add(-olderThan)
	var out []Message
	for _, msg := range m.queues[queue] {
		if msg.archived || msg.readCount == 0 || !msg.visibleAt.Before(cutoff) {
			continue
		}
		out = append(out, Message{
			ID:         msg.id,
			ReadCount:  msg.readCount,
			EnqueuedAt: msg.enqueuedAt,
			VisibleAt:  msg.visibleAt,
			Body:       append(json.RawMessage(nil), msg.body...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
