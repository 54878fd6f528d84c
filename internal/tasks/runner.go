package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/akopylov/orderflow/pkg/idempotency"
	"github.com/akopylov/orderflow/pkg/metrics"
)

// Handler executes one task kind. A returned error counts as a retryable
// failure.
type Handler interface {
	Handle(ctx context.Context, t Task) error
}

// StateRecorder persists terminal task states. Optional; the Runner works
// without one.
type StateRecorder interface {
	MarkSucceeded(ctx context.Context, idempotencyKey string) error
	MarkExhausted(ctx context.Context, idempotencyKey string, lastErr string) error
}

// Runner drives a task to a terminal state: dedup by idempotency key, then
// up to MaxAttempts attempts, then succeeded or exhausted. Exhausted tasks
// surface on the Exhausted channel and in metrics; they never loop forever
// and never propagate back to the request that enqueued them.
type Runner struct {
	log         *slog.Logger
	handlers    map[Kind]Handler
	idem        idempotency.Store
	metrics     *metrics.TaskMetrics
	recorder    StateRecorder
	maxAttempts int
	retryDelay  time.Duration
	exhausted   chan Task
}

type RunnerOption func(*Runner)

func WithStateRecorder(r StateRecorder) RunnerOption {
	return func(run *Runner) { run.recorder = r }
}

func WithRetryDelay(d time.Duration) RunnerOption {
	return func(run *Runner) { run.retryDelay = d }
}

func WithMaxAttempts(n int) RunnerOption {
	return func(run *Runner) {
		if n > 0 {
			run.maxAttempts = n
		}
	}
}

func NewRunner(log *slog.Logger, idem idempotency.Store, m *metrics.TaskMetrics, opts ...RunnerOption) *Runner {
	r := &Runner{
		log:         log,
		handlers:    make(map[Kind]Handler),
		idem:        idem,
		metrics:     m,
		maxAttempts: 3,
		retryDelay:  time.Second,
		exhausted:   make(chan Task, 64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Register(kind Kind, h Handler) {
	r.handlers[kind] = h
}

// Exhausted is the operator-visible channel of tasks that failed every
// attempt.
func (r *Runner) Exhausted() <-chan Task {
	return r.exhausted
}

// Process runs the task to a terminal state. The returned error reports
// pipeline-level problems (unknown kind, dedup store failure); handler
// failures are consumed by the retry policy, not returned.
func (r *Runner) Process(ctx context.Context, t Task) error {
	h, ok := r.handlers[t.Kind]
	if !ok {
		return fmt.Errorf("no handler registered for task kind %q", t.Kind)
	}

	// Read-only check; the key is marked only once the task reaches a
	// terminal state. An interrupted run therefore stays unmarked and a
	// redelivery executes the effect instead of skipping it.
	seen, err := r.idem.Seen(ctx, t.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("idempotency check for %q: %w", t.IdempotencyKey, err)
	}
	if seen {
		r.log.Info("duplicate task skipped", "kind", string(t.Kind), "order_id", t.OrderID)
		return nil
	}

	var lastErr error
	for t.Attempts < r.maxAttempts {
		t.Attempts++
		lastErr = h.Handle(ctx, t)
		if lastErr == nil {
			r.metrics.Attempts.WithLabelValues(string(t.Kind), "success").Inc()
			r.markSeen(ctx, t)
			r.markSucceeded(ctx, t)
			return nil
		}
		r.metrics.Attempts.WithLabelValues(string(t.Kind), "failure").Inc()
		r.log.Error("task attempt failed",
			"kind", string(t.Kind), "order_id", t.OrderID, "attempt", t.Attempts, "err", lastErr)

		if t.Attempts < r.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.retryDelay):
			}
		}
	}

	r.metrics.Exhausted.WithLabelValues(string(t.Kind)).Inc()
	r.log.Error("task exhausted", "kind", string(t.Kind), "order_id", t.OrderID, "attempts", t.Attempts, "err", lastErr)
	r.markSeen(ctx, t)
	r.markExhausted(ctx, t, lastErr)
	select {
	case r.exhausted <- t:
	default:
		// Operator channel full; the log line and metric remain.
	}
	return nil
}

func (r *Runner) markSeen(ctx context.Context, t Task) {
	if err := r.idem.Mark(ctx, t.IdempotencyKey); err != nil {
		// Unmarked means a possible redelivery, never a lost effect.
		r.log.Error("idempotency mark failed", "kind", string(t.Kind), "err", err)
	}
}

func (r *Runner) markSucceeded(ctx context.Context, t Task) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.MarkSucceeded(ctx, t.IdempotencyKey); err != nil {
		r.log.Error("record task success failed", "kind", string(t.Kind), "err", err)
	}
}

func (r *Runner) markExhausted(ctx context.Context, t Task, cause error) {
	if r.recorder == nil {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := r.recorder.MarkExhausted(ctx, t.IdempotencyKey, msg); err != nil {
		r.log.Error("record task exhaustion failed", "kind", string(t.Kind), "err", err)
	}
}
