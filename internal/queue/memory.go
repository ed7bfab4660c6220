package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nathanbeddoewebdev/vpsd/internal/monitor"
)

// Memory is an in-process delayed queue.
type Memory struct {
	workers         int
	redeliveryDelay time.Duration

	mu      sync.Mutex
	ready   []monitor.Job
	timers  map[*time.Timer]struct{}
	closed  bool
	notify  chan struct{}
	handled int
}

// MemoryOption configures a Memory queue.
type MemoryOption func(*Memory)

// WithRedeliveryDelay overrides DefaultRedeliveryDelay.
func WithRedeliveryDelay(d time.Duration) MemoryOption {
	return func(q *Memory) {
		if d > 0 {
			q.redeliveryDelay = d
		}
	}
}

// NewMemory creates a queue running up to workers handlers at once.
func NewMemory(workers int, opts ...MemoryOption) *Memory {
	q := &Memory{
		workers:         workersOrDefault(workers),
		redeliveryDelay: DefaultRedeliveryDelay,
		timers:          map[*time.Timer]struct{}{},
		notify:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue makes job ready after delay.
func (q *Memory) Enqueue(_ context.Context, job monitor.Job, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	if delay <= 0 {
		q.pushLocked(job)
		return nil
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, t)
		if !q.closed {
			q.pushLocked(job)
		}
	})
	q.timers[t] = struct{}{}
	return nil
}

func (q *Memory) pushLocked(job monitor.Job) {
	q.ready = append(q.ready, job)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of jobs waiting, delayed or ready.
func (q *Memory) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.timers)
}

// Handled returns the number of deliveries made so far.
func (q *Memory) Handled() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.handled
}

// Run delivers ready jobs until ctx is cancelled, then waits for running
// handlers to return.
func (q *Memory) Run(ctx context.Context, h Handler) error {
	var g errgroup.Group
	g.SetLimit(q.workers)

	for {
		job, ok := q.next(ctx)
		if !ok {
			break
		}
		g.Go(func() error {
			if err := h(ctx, job); err != nil && ctx.Err() == nil {
				_ = q.Enqueue(ctx, job, q.redeliveryDelay)
			}
			return nil
		})
	}
	return g.Wait()
}

func (q *Memory) next(ctx context.Context) (monitor.Job, bool) {
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			job := q.ready[0]
			q.ready = q.ready[1:]
			q.handled++
			q.mu.Unlock()
			return job, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return monitor.Job{}, false
		case <-q.notify:
		}
	}
}

// Close stops delayed jobs from becoming ready. Jobs not yet delivered are
// discarded.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.ready = nil
	return nil
}
