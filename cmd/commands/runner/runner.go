// Package runner gives trigger commands a scheduler for monitoring jobs and
// a way to follow a record until it settles.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/hypervisor"
	"nathanbeddoewebdev/vpsd/internal/monitor"
	"nathanbeddoewebdev/vpsd/internal/queue"
	"nathanbeddoewebdev/vpsd/internal/services/auth"
	"nathanbeddoewebdev/vpsd/internal/services/rebuild"
	"nathanbeddoewebdev/vpsd/internal/taskstore"
	"nathanbeddoewebdev/vpsd/internal/tui"
	"nathanbeddoewebdev/vpsd/internal/worker"
)

// PollInterval is the delay between record reads while following. It is a
// variable so tests can shorten it.
var PollInterval = time.Second

// Store supplies hypervisor credentials. Tests replace it.
var Store = auth.DefaultStore

// Runner schedules jobs for one command invocation.
type Runner struct {
	app    *app.App
	client hypervisor.TaskClient
	queue  queue.Queue

	// worker is set when jobs run in this process.
	worker *worker.Worker
}

// Options selects what the command needs.
type Options struct {
	// NeedClient builds the hypervisor client, for commands that start
	// tasks.
	NeedClient bool

	// Follow keeps the command running until the record settles. With the
	// in-memory queue, jobs then run in this process.
	Follow bool
}

// New prepares a runner for a.
func New(a *app.App, opts Options) (*Runner, error) {
	r := &Runner{app: a}
	inProcess := opts.Follow && a.Config.Queue.Backend != queue.BackendNATS

	if opts.NeedClient || inProcess {
		client, err := a.Hypervisor(Store())
		if err != nil {
			return nil, err
		}
		r.client = client
	}

	if inProcess {
		r.queue = queue.NewMemory(a.Config.Queue.Workers)
		w, err := worker.New(a, r.client, r.queue, worker.WithListen(""))
		if err != nil {
			r.queue.Close()
			return nil, err
		}
		r.worker = w
		return r, nil
	}

	q, err := a.Queue()
	if err != nil {
		return nil, err
	}
	r.queue = q
	return r, nil
}

// Scheduler is where trigger services enqueue the first attempt.
func (r *Runner) Scheduler() monitor.Scheduler { return r.queue }

// Actions returns the client's ActionClient side, or nil.
func (r *Runner) Actions() hypervisor.ActionClient {
	if a, ok := r.client.(hypervisor.ActionClient); ok {
		return a
	}
	return nil
}

// InProcess reports whether jobs run in this process.
func (r *Runner) InProcess() bool { return r.worker != nil }

// Detached reports whether nothing will pick the record up until a worker
// adopts it: the in-memory queue of a command that exits right away.
func (r *Runner) Detached() bool {
	return r.worker == nil && r.app.Config.Queue.Backend != queue.BackendNATS
}

// Wait blocks until record id settles. Status changes are written to w.
func (r *Runner) Wait(ctx context.Context, id int64, w io.Writer) (*taskstore.Record, error) {
	if r.worker != nil {
		return r.worker.RunUntilSettled(ctx, id, PollInterval)
	}
	return Watch(ctx, r.app.Records, id, w)
}

// Close releases the queue.
func (r *Runner) Close() error {
	if r.queue == nil {
		return nil
	}
	return r.queue.Close()
}

// Getter reads records.
type Getter interface {
	Get(ctx context.Context, id int64) (*taskstore.Record, error)
}

// Watch polls record id until it settles and writes each status or
// progress change to w. It returns the settled record, or nil if the
// record was deleted.
func Watch(ctx context.Context, records Getter, id int64, w io.Writer) (*taskstore.Record, error) {
	var last string
	for {
		rec, err := records.Get(ctx, id)
		switch {
		case errors.Is(err, taskstore.ErrNotFound):
			return nil, nil
		case err != nil:
			return nil, err
		case rec == nil:
			return nil, nil
		}

		line := describe(rec)
		if line != last {
			fmt.Fprintf(w, "  %s\n", line)
			last = line
		}
		if rec.IsTerminal() {
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

func describe(rec *taskstore.Record) string {
	s := fmt.Sprintf("Status: %s (%.0f%%)", rec.Status, rec.Progress)
	if rec.Step != "" {
		s += " step " + rec.Step
	}
	return s
}

// Snapshot reads record id for the watch view. Rebuilds include their
// steps and interpolated progress.
func Snapshot(a *app.App, id int64) tui.SnapshotFunc {
	progress := rebuild.NewService(a.Records, a.Steps, a.Locks, nil)
	return func(ctx context.Context) (*tui.TaskSnapshot, error) {
		rec, err := a.Records.Get(ctx, id)
		if err != nil || rec == nil {
			return nil, err
		}
		if rec.Kind != taskstore.KindRebuild {
			return &tui.TaskSnapshot{Record: rec, Percent: rec.Progress}, nil
		}
		p, err := progress.Progress(ctx, id)
		if err != nil {
			return nil, err
		}
		return &tui.TaskSnapshot{Record: p.Record, Steps: p.Steps, Percent: p.Percent}, nil
	}
}
