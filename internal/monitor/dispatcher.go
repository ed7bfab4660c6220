package monitor

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nathanbeddoewebdev/vpsd/internal/taskstore"
)

// Observer is told about every attempt the dispatcher runs.
type Observer func(ctx context.Context, res Result, err error)

// Dispatcher runs attempts on an Engine and schedules their follow-ups.
type Dispatcher struct {
	engine    *Engine
	sched     Scheduler
	records   taskstore.Repository
	tracer    trace.Tracer
	observers []Observer

	// following holds the record/task pairs with a chain in this process.
	mu        sync.Mutex
	following map[string]struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithObserver adds an observer.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observers = append(d.observers, o) }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) { d.tracer = t }
}

// NewDispatcher couples engine with sched. records is used by Resume.
func NewDispatcher(engine *Engine, sched Scheduler, records taskstore.Repository, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		engine:  engine,
		sched:   sched,
		records: records,
		tracer:  otel.GetTracerProvider().Tracer("vpsd.monitor"),

		following: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle runs one attempt and enqueues the attempt that follows it. A
// non-nil error asks the queue to redeliver job.
func (d *Dispatcher) Handle(ctx context.Context, job Job) error {
	ctx, span := d.tracer.Start(ctx, "monitor.attempt",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.kind", job.Kind),
			attribute.Int64("job.record_id", job.RecordID),
			attribute.String("job.resource_id", job.ResourceID),
			attribute.String("job.task_id", job.ExternalTaskID),
			attribute.Int("job.attempt", job.Attempt),
		),
	)
	defer span.End()

	res, err := d.engine.Run(ctx, job)
	if err == nil && res.Next != nil {
		if qerr := d.sched.Enqueue(ctx, *res.Next, res.Delay); qerr != nil {
			err = &JobError{Op: "enqueue", Job: job, Err: qerr}
		}
	}

	d.advance(job, res, err)

	span.SetAttributes(attribute.String("job.outcome", string(res.Outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	for _, o := range d.observers {
		o(ctx, res, err)
	}
	return err
}

func chainKey(recordID int64, taskID string) string {
	return strconv.FormatInt(recordID, 10) + "/" + taskID
}

// advance moves the followed chain from job to the attempt after it.
func (d *Dispatcher) advance(job Job, res Result, err error) {
	if job.RecordID == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.following, chainKey(job.RecordID, job.ExternalTaskID))
	switch {
	case err != nil:
		d.following[chainKey(job.RecordID, job.ExternalTaskID)] = struct{}{}
	case res.Next != nil && res.Next.RecordID != 0:
		d.following[chainKey(res.Next.RecordID, res.Next.ExternalTaskID)] = struct{}{}
	}
}

// follow marks rec's chain as followed. It reports false if it already was.
func (d *Dispatcher) follow(rec *taskstore.Record) bool {
	key := chainKey(rec.ID, rec.ExternalTaskID)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.following[key]; ok {
		return false
	}
	d.following[key] = struct{}{}
	return true
}

func (d *Dispatcher) unfollow(rec *taskstore.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.following, chainKey(rec.ID, rec.ExternalTaskID))
}

// Following reports how many record chains this process drives.
func (d *Dispatcher) Following() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.following)
}

// Resume enqueues a job for every active record that references a task,
// continuing from the last attempt recorded on it. It is meant for a
// worker starting on a queue that does not outlive the process; a durable
// queue still holds the chains and resuming would fork them.
func (d *Dispatcher) Resume(ctx context.Context) (int, error) {
	return d.enqueueActive(ctx, false)
}

// Adopt enqueues a job for every active record that no chain in this
// process follows yet. It is only safe when this process is the sole
// consumer of its queue, as with the in-memory backend: records tracked by
// another process are otherwise never seen.
func (d *Dispatcher) Adopt(ctx context.Context) (int, error) {
	return d.enqueueActive(ctx, true)
}

func (d *Dispatcher) enqueueActive(ctx context.Context, skipFollowed bool) (int, error) {
	active, err := d.records.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for i := range active {
		rec := &active[i]
		if rec.ExternalTaskID == "" {
			continue
		}
		if _, ok := d.engine.Strategy(string(rec.Kind)); !ok {
			continue
		}
		if !d.follow(rec) && skipFollowed {
			continue
		}
		if err := d.sched.Enqueue(ctx, ResumeRecord(rec), 0); err != nil {
			d.unfollow(rec)
			return n, err
		}
		n++
	}
	return n, nil
}
