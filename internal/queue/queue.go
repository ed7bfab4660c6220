// Package queue delivers monitoring jobs to workers after a delay.
//
// Delivery is at-least-once: a job whose handler fails is delivered again.
// Memory keeps jobs in process and loses them on exit; NATS persists them
// in a JetStream work queue shared by many workers.
package queue

import (
	"context"
	"errors"
	"time"

	"nathanbeddoewebdev/vpsd/internal/monitor"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendNATS   = "nats"
)

// DefaultRedeliveryDelay is how long a failed job waits before it is
// delivered again.
var DefaultRedeliveryDelay = 5 * time.Second

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue: closed")

// Handler processes one job. A non-nil error causes redelivery.
type Handler func(ctx context.Context, job monitor.Job) error

// Queue is a delayed job queue with a worker pool.
type Queue interface {
	monitor.Scheduler

	// Run delivers jobs to h until ctx is cancelled. At most the
	// configured number of handlers run at once.
	Run(ctx context.Context, h Handler) error

	Close() error
}

// Options configures a queue.
type Options struct {
	Backend string

	// Workers bounds concurrent handlers. Defaults to 4.
	Workers int

	// NATSURL is required for the nats backend.
	NATSURL string

	RedeliveryDelay time.Duration
}

// New returns the queue selected by opts.Backend.
func New(opts Options) (Queue, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemory(opts.Workers, WithRedeliveryDelay(opts.RedeliveryDelay)), nil
	case BackendNATS:
		if opts.NATSURL == "" {
			return nil, errors.New("queue: nats backend requires a URL")
		}
		q, err := NewNATS(opts.NATSURL, NATSConfig{Workers: opts.Workers, RedeliveryDelay: opts.RedeliveryDelay})
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, errors.New("queue: unknown backend " + opts.Backend)
	}
}

func workersOrDefault(n int) int {
	if n < 1 {
		return 4
	}
	return n
}
