// Package worker runs monitoring jobs: it consumes the queue, drives the
// monitor engine and samples resource usage on a timer.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/hypervisor"
	"nathanbeddoewebdev/vpsd/internal/monitor"
	"nathanbeddoewebdev/vpsd/internal/queue"
	"nathanbeddoewebdev/vpsd/internal/taskstore"
	"nathanbeddoewebdev/vpsd/internal/telemetry"
)

// DefaultRefreshInterval is how often the active record and lock gauges
// are recomputed.
const DefaultRefreshInterval = 30 * time.Second

// DefaultAdoptInterval is how often a worker on the in-memory queue looks
// for records tracked by other processes.
const DefaultAdoptInterval = 5 * time.Second

// Worker couples the stores, the engine and a queue.
type Worker struct {
	app     *app.App
	log     *zap.Logger
	queue   queue.Queue
	engine  *monitor.Engine
	disp    *monitor.Dispatcher
	metrics *telemetry.Metrics
	now     func() time.Time

	usage          bool
	usageInterval  time.Duration
	usageResources []string
	listen         string
	refresh        time.Duration

	// adopt is set when this worker is the only consumer of a queue that
	// dies with the process. It also gates Resume.
	adopt         bool
	adoptInterval time.Duration
}

// Option configures a Worker.
type Option func(*Worker)

// WithMetrics replaces the worker's metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithClock replaces time.Now. Intended for testing.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithListen overrides metrics.listen. Empty disables the HTTP endpoint.
func WithListen(addr string) Option {
	return func(w *Worker) { w.listen = addr }
}

// WithRefreshInterval overrides DefaultRefreshInterval.
func WithRefreshInterval(d time.Duration) Option {
	return func(w *Worker) { w.refresh = d }
}

// WithAdoptInterval overrides DefaultAdoptInterval.
func WithAdoptInterval(d time.Duration) Option {
	return func(w *Worker) { w.adoptInterval = d }
}

// New builds a worker. client is queried for task state; when it also
// implements hypervisor.ActionClient rebuild steps are chained without
// operator help, and when it implements hypervisor.UsageClient usage is
// sampled.
func New(a *app.App, client hypervisor.TaskClient, q queue.Queue, opts ...Option) (*Worker, error) {
	interval, err := a.Config.UsageInterval()
	if err != nil {
		return nil, err
	}

	w := &Worker{
		app:            a,
		log:            a.Log,
		queue:          q,
		now:            time.Now,
		usageInterval:  interval,
		usageResources: a.Config.UsageResources(),
		listen:         a.Config.Metrics.Listen,
		refresh:        DefaultRefreshInterval,
		adopt:          a.Config.Queue.Backend != "nats",
		adoptInterval:  DefaultAdoptInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = telemetry.NewMetrics()
	}

	w.engine = monitor.NewEngine(a.Records, monitor.WithLocks(a.Locks), monitor.WithClock(w.now))

	actions, _ := client.(hypervisor.ActionClient)
	w.engine.Register(monitor.BackupCreate(client))
	w.engine.Register(monitor.BackupRestore(client))
	w.engine.Register(monitor.BackupDelete(client))
	w.engine.Register(monitor.ISODownload(client))
	w.engine.Register(monitor.NewRebuild(client, a.Steps, actions))
	if uc, ok := client.(hypervisor.UsageClient); ok {
		w.engine.Register(monitor.NewUsageSync(uc, a.Usage))
		w.usage = true
	}

	w.disp = monitor.NewDispatcher(w.engine, q, a.Records,
		monitor.WithObserver(LogResult(w.log)),
		monitor.WithObserver(RecordEvents(a.Events, w.log)),
		monitor.WithObserver(w.metrics.Observe),
	)
	return w, nil
}

// Engine returns the worker's engine.
func (w *Worker) Engine() *monitor.Engine { return w.engine }

// Scheduler returns the queue jobs are enqueued on.
func (w *Worker) Scheduler() monitor.Scheduler { return w.queue }

// Metrics returns the worker's metrics.
func (w *Worker) Metrics() *telemetry.Metrics { return w.metrics }

// Run processes jobs until ctx is cancelled. On a queue that dies with
// the process it first resumes the chains of active records.
func (w *Worker) Run(ctx context.Context) error {
	resumed := 0
	if w.adopt {
		n, err := w.disp.Resume(ctx)
		if err != nil {
			return fmt.Errorf("worker: resume: %w", err)
		}
		resumed = n
	}
	w.log.Info("worker started",
		zap.Int("resumed", resumed),
		zap.Strings("kinds", w.engine.Kinds()),
		zap.String("metrics", w.listen),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.queue.Run(ctx, w.disp.Handle) })
	g.Go(func() error { return w.refreshGauges(ctx) })
	if w.adopt && w.adoptInterval > 0 {
		g.Go(func() error { return w.adoptRecords(ctx) })
	}
	if w.usage && w.usageInterval > 0 && len(w.usageResources) > 0 {
		g.Go(func() error { return w.sampleUsage(ctx) })
	}
	if w.listen != "" {
		router := telemetry.Router(w.metrics, map[string]telemetry.Check{"records": w.app.Ping})
		g.Go(func() error { return telemetry.Serve(ctx, w.listen, router) })
	}

	err := g.Wait()
	w.log.Info("worker stopped")
	return err
}

// RunUntilSettled processes jobs until record id is terminal or deleted.
// It does not resume other records.
func (w *Worker) RunUntilSettled(ctx context.Context, id int64, poll time.Duration) (*taskstore.Record, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- w.queue.Run(ctx, w.disp.Handle) }()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case err := <-errc:
			if err == nil {
				err = ctx.Err()
			}
			return nil, err
		case <-ticker.C:
			rec, err := w.app.Records.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if rec != nil && !rec.IsTerminal() {
				continue
			}
			cancel()
			if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
				return rec, err
			}
			return rec, nil
		}
	}
}

// ErrNoUsage is returned when the hypervisor client cannot report usage.
var ErrNoUsage = errors.New("worker: hypervisor does not report usage")

// SyncUsage enqueues one usage sample per resource.
func (w *Worker) SyncUsage(ctx context.Context, resources []string) error {
	if !w.usage {
		return ErrNoUsage
	}
	for _, id := range resources {
		if err := w.queue.Enqueue(ctx, monitor.UsageJob(id), 0); err != nil {
			return err
		}
	}
	return nil
}

// SampleNow samples each resource in the calling goroutine instead of
// going through the queue.
func (w *Worker) SampleNow(ctx context.Context, resources []string) error {
	if !w.usage {
		return ErrNoUsage
	}
	var errs []error
	for _, id := range resources {
		if err := w.disp.Handle(ctx, monitor.UsageJob(id)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Worker) sampleUsage(ctx context.Context) error {
	ticker := time.NewTicker(w.usageInterval)
	defer ticker.Stop()

	for {
		if err := w.SyncUsage(ctx, w.usageResources); err != nil {
			w.log.Warn("could not schedule usage sync", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// adoptRecords picks up records tracked by other processes while this
// worker runs.
func (w *Worker) adoptRecords(ctx context.Context) error {
	ticker := time.NewTicker(w.adoptInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		n, err := w.disp.Adopt(ctx)
		if err != nil {
			w.log.Warn("could not adopt records", zap.Error(err))
			continue
		}
		if n > 0 {
			w.log.Info("adopted records", zap.Int("count", n))
		}
	}
}

func (w *Worker) refreshGauges(ctx context.Context) error {
	ticker := time.NewTicker(w.refresh)
	defer ticker.Stop()

	for {
		w.updateGauges(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) updateGauges(ctx context.Context) {
	active, err := w.app.Records.ListActive(ctx)
	if err != nil {
		w.log.Debug("could not count active records", zap.Error(err))
		return
	}
	counts := map[string]int{}
	for _, rec := range active {
		counts[string(rec.Kind)]++
	}
	w.metrics.SetActive(counts)

	locks, err := w.app.Locks.List(ctx)
	if err != nil {
		w.log.Debug("could not count locks", zap.Error(err))
		return
	}
	held := 0
	now := w.now()
	for _, l := range locks {
		if !l.Expired(now) {
			held++
		}
	}
	w.metrics.HeldLocks.Set(float64(held))
}
