package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrQueueClosed = errors.New("task queue closed")

// Pool is the production executor: a buffered queue drained by a fixed set of
// worker goroutines. Enqueue costs one channel send; execution never blocks
// the request path.
type Pool struct {
	log     *slog.Logger
	runner  *Runner
	queue   chan Task
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(log *slog.Logger, runner *Runner, queueSize int, taskTimeout time.Duration) *Pool {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Pool{
		log:     log,
		runner:  runner,
		queue:   make(chan Task, queueSize),
		timeout: taskTimeout,
	}
}

func (p *Pool) Start(workers int) {
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.workerLoop(id)
		}(i)
	}
	p.log.Info("task workers started", "count", workers)
}

func (p *Pool) workerLoop(id int) {
	for t := range p.queue {
		// Workers outlive the request; each task gets its own bounded
		// context so a stalled external dependency cannot starve the pool.
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.runner.Process(ctx, t); err != nil {
			p.log.Error("task processing error", "worker", id, "kind", string(t.Kind), "err", err)
		}
		cancel()
	}
}

// Enqueue sends under the same lock Stop closes under, so a send can never
// race the close.
func (p *Pool) Enqueue(_ context.Context, t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrQueueClosed
	}
	p.queue <- t
	return nil
}

// Stop closes intake and waits for the backlog to drain. Workers keep
// draining while the lock is held, so a blocked sender always completes.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

// Inline executes tasks synchronously on the caller's goroutine. It exists
// for deterministic tests and is selected by configuration, never by
// patching the runtime.
type Inline struct {
	runner *Runner
}

func NewInline(runner *Runner) *Inline {
	return &Inline{runner: runner}
}

func (e *Inline) Enqueue(ctx context.Context, t Task) error {
	return e.runner.Process(ctx, t)
}
