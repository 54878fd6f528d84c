package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/akopylov/orderflow/pkg/idempotency"
	"github.com/akopylov/orderflow/pkg/logging"
	"github.com/akopylov/orderflow/pkg/metrics"
)

func newTestRunner(t *testing.T, opts ...RunnerOption) *Runner {
	t.Helper()
	m := metrics.NewTaskMetrics(prometheus.NewRegistry())
	opts = append([]RunnerOption{WithRetryDelay(time.Millisecond)}, opts...)
	return NewRunner(logging.New(), idempotency.NewMemoryStore(), m, opts...)
}

type countingHandler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (h *countingHandler) Handle(context.Context, Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return h.err
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

func mustTask(t *testing.T, kind Kind, orderID string) Task {
	t.Helper()
	task, err := New(kind, orderID)
	if err != nil {
		t.Fatalf("New task failed: %v", err)
	}
	return task
}

func TestRunner_SuccessFirstAttempt(t *testing.T) {
	r := newTestRunner(t)
	h := &countingHandler{}
	r.Register(KindDocument, h)

	if err := r.Process(context.Background(), mustTask(t, KindDocument, "o-1")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if h.count() != 1 {
		t.Errorf("handler calls = %d, want 1", h.count())
	}
}

func TestRunner_RetryBound(t *testing.T) {
	// A task that always fails is attempted exactly 3 times, then marked
	// exhausted; it never loops indefinitely.
	r := newTestRunner(t)
	h := &countingHandler{err: errors.New("endpoint down")}
	r.Register(KindShippedWebhook, h)

	task := mustTask(t, KindShippedWebhook, "o-2")
	if err := r.Process(context.Background(), task); err != nil {
		t.Fatalf("Process returned pipeline error: %v", err)
	}
	if h.count() != 3 {
		t.Errorf("attempts = %d, want exactly 3", h.count())
	}

	select {
	case exhausted := <-r.Exhausted():
		if exhausted.OrderID != "o-2" {
			t.Errorf("exhausted order = %s, want o-2", exhausted.OrderID)
		}
		if exhausted.Attempts != 3 {
			t.Errorf("exhausted attempts = %d, want 3", exhausted.Attempts)
		}
	default:
		t.Error("exhausted task not surfaced on operator channel")
	}
}

func TestRunner_RecoversAfterFailure(t *testing.T) {
	r := newTestRunner(t)
	h := &flakyHandler{failures: 2}
	r.Register(KindDocument, h)

	if err := r.Process(context.Background(), mustTask(t, KindDocument, "o-3")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if h.calls != 3 {
		t.Errorf("calls = %d, want 3 (2 failures + 1 success)", h.calls)
	}
	select {
	case <-r.Exhausted():
		t.Error("recovered task reported as exhausted")
	default:
	}
}

type flakyHandler struct {
	failures int
	calls    int
}

func (h *flakyHandler) Handle(context.Context, Task) error {
	h.calls++
	if h.calls <= h.failures {
		return errors.New("transient")
	}
	return nil
}

func TestRunner_IdempotentDedup(t *testing.T) {
	// Re-enqueuing the same (order, event) pair produces at most one
	// externally observable effect.
	r := newTestRunner(t)
	h := &countingHandler{}
	r.Register(KindDocument, h)
	ctx := context.Background()

	first := mustTask(t, KindDocument, "o-4")
	second := mustTask(t, KindDocument, "o-4")
	if first.IdempotencyKey != second.IdempotencyKey {
		t.Fatalf("same logical event produced different keys: %q vs %q",
			first.IdempotencyKey, second.IdempotencyKey)
	}

	if err := r.Process(ctx, first); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}
	if err := r.Process(ctx, second); err != nil {
		t.Fatalf("second Process failed: %v", err)
	}
	if h.count() != 1 {
		t.Errorf("handler calls = %d, want 1 (duplicate suppressed)", h.count())
	}
}

func TestRunner_InterruptedRunIsRedeliverable(t *testing.T) {
	// A run cancelled mid-retry leaves no dedup mark; a later redelivery of
	// the same task must execute the effect instead of skipping it as a
	// duplicate, otherwise durable recovery would no-op forever.
	r := newTestRunner(t, WithRetryDelay(50*time.Millisecond))
	h := &flakyHandler{failures: 1}
	r.Register(KindDocument, h)
	task := mustTask(t, KindDocument, "o-9")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Process(ctx, task); err == nil {
		t.Fatal("expected context error from interrupted run")
	}
	if h.calls != 1 {
		t.Fatalf("calls after interruption = %d, want 1", h.calls)
	}

	if err := r.Process(context.Background(), task); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if h.calls != 2 {
		t.Errorf("calls after redelivery = %d, want 2 (effect performed)", h.calls)
	}
}

func TestRunner_ExhaustedTaskNotReExecuted(t *testing.T) {
	// Exhaustion is terminal: a redelivery of an exhausted task is a
	// duplicate, not three more attempts.
	r := newTestRunner(t)
	h := &countingHandler{err: errors.New("down")}
	r.Register(KindDocument, h)
	ctx := context.Background()

	task := mustTask(t, KindDocument, "o-11")
	if err := r.Process(ctx, task); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}
	if err := r.Process(ctx, task); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if h.count() != 3 {
		t.Errorf("handler calls = %d, want 3", h.count())
	}
}

func TestRunner_MaxAttemptsOption(t *testing.T) {
	r := newTestRunner(t, WithMaxAttempts(1))
	h := &countingHandler{err: errors.New("down")}
	r.Register(KindDocument, h)

	if err := r.Process(context.Background(), mustTask(t, KindDocument, "o-12")); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if h.count() != 1 {
		t.Errorf("attempts = %d, want 1", h.count())
	}
	select {
	case <-r.Exhausted():
	default:
		t.Error("single-attempt failure not surfaced as exhausted")
	}
}

func TestRunner_DistinctEventsNotDeduped(t *testing.T) {
	r := newTestRunner(t)
	h := &countingHandler{}
	r.Register(KindDocument, h)
	r.Register(KindShippedWebhook, h)
	ctx := context.Background()

	_ = r.Process(ctx, mustTask(t, KindDocument, "o-5"))
	_ = r.Process(ctx, mustTask(t, KindShippedWebhook, "o-5"))
	_ = r.Process(ctx, mustTask(t, KindDocument, "o-6"))

	if h.count() != 3 {
		t.Errorf("handler calls = %d, want 3", h.count())
	}
}

func TestRunner_UnknownKind(t *testing.T) {
	r := newTestRunner(t)
	if err := r.Process(context.Background(), mustTask(t, "order.unknown", "o-7")); err == nil {
		t.Error("expected error for unregistered kind")
	}
}

type memoryRecorder struct {
	mu        sync.Mutex
	succeeded []string
	exhausted []string
}

func (m *memoryRecorder) MarkSucceeded(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.succeeded = append(m.succeeded, key)
	return nil
}

func (m *memoryRecorder) MarkExhausted(_ context.Context, key string, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhausted = append(m.exhausted, key)
	return nil
}

func TestRunner_TerminalStatesRecorded(t *testing.T) {
	rec := &memoryRecorder{}
	r := newTestRunner(t, WithStateRecorder(rec))
	r.Register(KindDocument, &countingHandler{})
	r.Register(KindShippedWebhook, &countingHandler{err: errors.New("down")})
	ctx := context.Background()

	good := mustTask(t, KindDocument, "o-8")
	bad := mustTask(t, KindShippedWebhook, "o-8")
	_ = r.Process(ctx, good)
	_ = r.Process(ctx, bad)

	if len(rec.succeeded) != 1 || rec.succeeded[0] != good.IdempotencyKey {
		t.Errorf("succeeded records = %v", rec.succeeded)
	}
	if len(rec.exhausted) != 1 || rec.exhausted[0] != bad.IdempotencyKey {
		t.Errorf("exhausted records = %v", rec.exhausted)
	}
}
