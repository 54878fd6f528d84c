package tasks

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/akopylov/orderflow/pkg/logging"
)

type signalHandler struct {
	mu   sync.Mutex
	seen []string
}

func (h *signalHandler) Handle(_ context.Context, t Task) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, t.OrderID)
	return nil
}

func (h *signalHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func TestPool_ProcessesEnqueuedTasks(t *testing.T) {
	r := newTestRunner(t)
	h := &signalHandler{}
	r.Register(KindDocument, h)

	p := NewPool(logging.New(), r, 16, time.Second)
	p.Start(3)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		task := mustTask(t, KindDocument, string(rune('a'+i)))
		if err := p.Enqueue(ctx, task); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	// Stop drains the backlog before returning.
	p.Stop()

	if h.count() != 10 {
		t.Errorf("processed = %d, want 10", h.count())
	}
}

func TestPool_EnqueueAfterStop(t *testing.T) {
	r := newTestRunner(t)
	r.Register(KindDocument, &signalHandler{})

	p := NewPool(logging.New(), r, 4, time.Second)
	p.Start(1)
	p.Stop()

	if err := p.Enqueue(context.Background(), mustTask(t, KindDocument, "late")); err != ErrQueueClosed {
		t.Errorf("err = %v, want ErrQueueClosed", err)
	}
}

func TestPool_StopRacesEnqueue(t *testing.T) {
	// Enqueues racing Stop must either land in the queue or get
	// ErrQueueClosed; a send on the closed channel would panic and crash the
	// process during shutdown.
	for i := 0; i < 100; i++ {
		r := newTestRunner(t)
		r.Register(KindDocument, &signalHandler{})
		p := NewPool(logging.New(), r, 16, time.Second)
		p.Start(2)

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			task := mustTask(t, KindDocument, fmt.Sprintf("o-%d-%d", i, g))
			wg.Add(1)
			go func(task Task) {
				defer wg.Done()
				if err := p.Enqueue(context.Background(), task); err != nil && err != ErrQueueClosed {
					t.Errorf("Enqueue error: %v", err)
				}
			}(task)
		}
		p.Stop()
		wg.Wait()
	}
}

func TestInline_ExecutesSynchronously(t *testing.T) {
	r := newTestRunner(t)
	h := &signalHandler{}
	r.Register(KindDocument, h)

	inline := NewInline(r)
	if err := inline.Enqueue(context.Background(), mustTask(t, KindDocument, "o-1")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// No waiting, no scheduling: the effect is visible immediately.
	if h.count() != 1 {
		t.Errorf("processed = %d, want 1", h.count())
	}
}
