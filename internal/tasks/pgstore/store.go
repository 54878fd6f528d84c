// Package pgstore journals async tasks in Postgres so enqueued work survives
// a crash. It records every enqueue, tracks terminal states, and re-submits
// tasks whose lease expired before they reached one.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akopylov/orderflow/internal/tasks"
)

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS async_tasks (
		id BIGSERIAL PRIMARY KEY,
		idempotency_key TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL,
		order_id TEXT NOT NULL,
		payload JSONB NOT NULL,
		state TEXT NOT NULL DEFAULT 'pending',
		attempts INT NOT NULL DEFAULT 0,
		last_error TEXT,
		lease_until TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("ensure async_tasks schema: %w", err)
	}
	return nil
}

// Record journals an enqueued task. Re-enqueuing the same logical event hits
// the unique idempotency key and is a no-op.
func (s *Store) Record(ctx context.Context, t tasks.Task) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO async_tasks (idempotency_key, kind, order_id, payload)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		t.IdempotencyKey, string(t.Kind), t.OrderID, t.Payload)
	if err != nil {
		return fmt.Errorf("record task: %w", err)
	}
	return nil
}

func (s *Store) MarkSucceeded(ctx context.Context, idempotencyKey string) error {
	_, err := s.pool.Exec(ctx, `UPDATE async_tasks SET state=$2 WHERE idempotency_key=$1`,
		idempotencyKey, string(tasks.StateSucceeded))
	return err
}

func (s *Store) MarkExhausted(ctx context.Context, idempotencyKey string, lastErr string) error {
	_, err := s.pool.Exec(ctx, `UPDATE async_tasks SET state=$2, last_error=$3 WHERE idempotency_key=$1`,
		idempotencyKey, string(tasks.StateExhausted), lastErr)
	return err
}

// LockBatch leases pending tasks whose previous lease (if any) expired.
// FOR UPDATE SKIP LOCKED lets concurrent recovery loops share the backlog
// without contending.
func (s *Store) LockBatch(ctx context.Context, batchSize int, lease time.Duration) ([]tasks.Task, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `
		SELECT id, idempotency_key, kind, order_id, payload, attempts
		FROM async_tasks
		WHERE state = 'pending' AND (lease_until IS NULL OR lease_until < now())
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []tasks.Task
	var ids []int64
	for rows.Next() {
		var id int64
		var t tasks.Task
		var kind string
		var payload json.RawMessage
		if err := rows.Scan(&id, &t.IdempotencyKey, &kind, &t.OrderID, &payload, &t.Attempts); err != nil {
			return nil, err
		}
		t.Kind = tasks.Kind(kind)
		t.Payload = payload
		batch = append(batch, t)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx, `UPDATE async_tasks SET lease_until = now() + $1::interval WHERE id = ANY($2)`,
		lease.String(), ids)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return batch, nil
}

// Journal wraps an Enqueuer so every task is recorded before it enters the
// transport.
type Journal struct {
	store *Store
	next  tasks.Enqueuer
}

func NewJournal(store *Store, next tasks.Enqueuer) *Journal {
	return &Journal{store: store, next: next}
}

func (j *Journal) Enqueue(ctx context.Context, t tasks.Task) error {
	if err := j.store.Record(ctx, t); err != nil {
		return err
	}
	return j.next.Enqueue(ctx, t)
}

// Relay re-submits journaled tasks that never reached a terminal state,
// giving the pipeline at-least-once delivery across process restarts.
type Relay struct {
	log       *slog.Logger
	store     *Store
	submit    tasks.Enqueuer
	batchSize int
	interval  time.Duration
	lease     time.Duration
}

type RelayOption func(*Relay)

func WithRelayInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithRelayLease(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.lease = d
		}
	}
}

func NewRelay(log *slog.Logger, store *Store, submit tasks.Enqueuer, opts ...RelayOption) *Relay {
	r := &Relay{
		log:       log,
		store:     store,
		submit:    submit,
		batchSize: 100,
		interval:  5 * time.Second,
		lease:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("task relay stopping")
			return nil
		case <-t.C:
			batch, err := r.store.LockBatch(ctx, r.batchSize, r.lease)
			if err != nil {
				r.log.Error("task relay lock batch error", "err", err)
				continue
			}
			for _, task := range batch {
				if err := r.submit.Enqueue(ctx, task); err != nil {
					r.log.Error("task relay resubmit failed", "kind", string(task.Kind), "err", err)
				}
			}
		}
	}
}
