// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crateworks/linernotes/internal/store"
)

// PGMQ implements Queue over the pgmq Postgres extension. DDL calls
// (Create, DropAndRecreate) go through the admin pool when one is
// configured, everything else uses the regular pool.
type PGMQ struct {
	pool  *pgxpool.Pool
	admin *pgxpool.Pool
}

// NewPGMQ returns a PGMQ client. admin may be nil, in which case DDL
// runs on the regular pool.
func NewPGMQ(pool, admin *pgxpool.Pool) *PGMQ {
	if admin == nil {
		admin = pool
	}
	return &PGMQ{pool: pool, admin: admin}
}

var _ Queue = (*PGMQ)(nil)

// Send enqueues body and returns the new message id.
func (q *PGMQ) Send(ctx context.Context, queue string, body json.RawMessage) (int64, error) {
	if err := ValidateName(queue); err != nil {
		return 0, err
	}
	var msgID int64
	err := q.pool.QueryRow(ctx,
		`SELECT * FROM pgmq.send($1, $2::jsonb)`,
		queue, string(body)).Scan(&msgID)
	if err != nil {
		return 0, store.Categorize(err, "pgmq send to "+queue)
	}
	return msgID, nil
}

// Read leases up to qty visible messages for vt.
func (q *PGMQ) Read(ctx context.Context, queue string, vt time.Duration, qty int) ([]Message, error) {
	if err := ValidateName(queue); err != nil {
		return nil, err
	}
	rows, err := q.pool.Query(ctx,
		`SELECT msg_id, read_ct, enqueued_at, vt, message
		 FROM pgmq.read($1, $2, $3)`,
		queue, int(vt.Seconds()), qty)
	if err != nil {
		return nil, store.Categorize(err, "pgmq read from "+queue)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ReadCount, &m.EnqueuedAt, &m.VisibleAt, &m.Body); err != nil {
			return nil, store.Categorize(err, "scan pgmq message")
		}
		msgs = append(msgs, m)
	}
	return msgs, store.Categorize(rows.Err(), "iterate pgmq messages")
}

// Archive moves the message to the archive table, reporting whether it
// existed.
func (q *PGMQ) Archive(ctx context.Context, queue string, msgID int64) (bool, error) {
	if err := ValidateName(queue); err != nil {
		return false, err
	}
	var archived bool
	err := q.pool.QueryRow(ctx,
		`SELECT pgmq.archive($1, $2::bigint)`, queue, msgID).Scan(&archived)
	if err != nil {
		return false, store.Categorize(err, "pgmq archive in "+queue)
	}
	return archived, nil
}

// SetVT reschedules the message to become visible vt from now.
func (q *PGMQ) SetVT(ctx context.Context, queue string, msgID int64, vt time.Duration) error {
	if err := ValidateName(queue); err != nil {
		return err
	}
	_, err := q.pool.Exec(ctx,
		`SELECT pgmq.set_vt($1, $2::bigint, $3)`,
		queue, msgID, int(vt.Seconds()))
	return store.Categorize(err, "pgmq set_vt in "+queue)
}

// Create makes the queue if it does not already exist.
func (q *PGMQ) Create(ctx context.Context, queue string) error {
	if err := ValidateName(queue); err != nil {
		return err
	}
	_, err := q.admin.Exec(ctx, `SELECT pgmq.create($1)`, queue)
	return store.Categorize(err, "pgmq create "+queue)
}

// DropAndRecreate empties the queue by dropping and recreating it. The
// archive table is dropped with the queue, so this is a full reset.
func (q *PGMQ) DropAndRecreate(ctx context.Context, queue string) error {
	if err := ValidateName(queue); err != nil {
		return err
	}
	if _, err := q.admin.Exec(ctx, `SELECT pgmq.drop_queue($1)`, queue); err != nil {
		return store.Categorize(err, "pgmq drop "+queue)
	}
	if _, err := q.admin.Exec(ctx, `SELECT pgmq.create($1)`, queue); err != nil {
		return store.Categorize(err, "pgmq recreate "+queue)
	}
	return nil
}

// Stats reads the pgmq metrics row for the queue.
func (q *PGMQ) Stats(ctx context.Context, queue string) (Stats, error) {
	if err := ValidateName(queue); err != nil {
		return Stats{}, err
	}
	var s Stats
	var oldestSec *int64
	err := q.pool.QueryRow(ctx,
		`SELECT queue_length, oldest_msg_age_sec, total_messages
		 FROM pgmq.metrics($1)`, queue).
		Scan(&s.Depth, &oldestSec, &s.TotalMessages)
	if err != nil {
		return Stats{}, store.Categorize(err, "pgmq metrics for "+queue)
	}
	s.Queue = queue
	if oldestSec != nil {
		s.OldestAge = time.Duration(*oldestSec) * time.Second
	}
	return s, nil
}

// Stalled lists leased messages whose visibility deadline passed more
// than olderThan ago, meaning the worker that held them never finished.
func (q *PGMQ) Stalled(ctx context.Context, queue string, olderThan time.Duration) ([]Message, error) {
	if err := ValidateName(queue); err != nil {
		return nil, err
	}
	// Queue names are validated identifiers, so building the table name
	// by hand is safe.
	sql := fmt.Sprintf(
		`SELECT msg_id, read_ct, enqueued_at, vt, message
		 FROM pgmq.q_%s
		 WHERE read_ct > 0 AND vt < now() - make_interval(secs => $1)`,
		queue)
	rows, err := q.pool.Query(ctx, sql, olderThan.Seconds())
	if err != nil {
		return nil, store.Categorize(err, "scan stalled messages in "+queue)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ReadCount, &m.EnqueuedAt, &m.VisibleAt, &m.Body); err != nil {
			return nil, store.Categorize(err, "scan stalled message")
		}
		msgs = append(msgs, m)
	}
	return msgs, store.Categorize(rows.Err(), "iterate stalled messages")
}
