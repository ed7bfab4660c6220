package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"nathanbeddoewebdev/vpsd/internal/taskstore"
)

// ErrUnknownKind is returned for a job whose kind has no strategy.
var ErrUnknownKind = errors.New("no strategy for job kind")

// Strategy adapts the engine to one kind of operation.
type Strategy interface {
	Kind() string
	Policy() Policy

	// Observe queries the task the job references. An error is treated
	// as transient.
	Observe(ctx context.Context, job Job) (Observation, error)
}

// Settlement is a strategy's custom handling of a finished task.
type Settlement struct {
	// Delete removes the record instead of saving it.
	Delete bool

	Events []Event

	// Continue runs after the settled record has been saved. It may start
	// the record's next stage, mutating rec, and returns the job that
	// monitors it. The engine saves rec again afterwards. On error the
	// record is failed.
	Continue func(ctx context.Context, rec *taskstore.Record) (*Job, []Event, error)
}

// Settler replaces the default terminal update (completed with size, or
// failed with the hypervisor's error) for a kind.
type Settler interface {
	Settle(ctx context.Context, rec *taskstore.Record, job Job, obs Observation, now time.Time) (Settlement, error)
}

// ProgressReporter computes the overall progress of a running task from
// an observation. It may update state other than the record.
type ProgressReporter interface {
	Report(ctx context.Context, rec *taskstore.Record, job Job, obs Observation) (percent float64, ok bool, err error)
}

// ExhaustionHandler replaces the default exhaustion handling, which marks
// the record failed with msg.
type ExhaustionHandler interface {
	OnRetriesExhausted(ctx context.Context, rec *taskstore.Record, job Job, msg string, now time.Time) error
}

// Engine runs monitoring attempts.
type Engine struct {
	records taskstore.Repository
	locks   LockReleaser
	now     func() time.Time

	mu         sync.RWMutex
	strategies map[string]Strategy
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocks releases the record's resource lock when it settles.
func WithLocks(locks LockReleaser) Option {
	return func(e *Engine) { e.locks = locks }
}

// WithClock replaces time.Now. Intended for testing.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine that settles records in records.
func NewEngine(records taskstore.Repository, opts ...Option) *Engine {
	e := &Engine{
		records:    records,
		now:        time.Now,
		strategies: map[string]Strategy{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds s, replacing any strategy for the same kind.
func (e *Engine) Register(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies[s.Kind()] = s
}

// Strategy returns the strategy registered for kind.
func (e *Engine) Strategy(kind string) (Strategy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.strategies[kind]
	return s, ok
}

// Kinds returns the registered kinds, sorted.
func (e *Engine) Kinds() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	kinds := make([]string, 0, len(e.strategies))
	for k := range e.strategies {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Run performs one attempt of job.
//
// Expected conditions (still running, already settled, record gone) are
// reported through the Result. The error is non-nil only for unexpected
// failures, always as a *JobError; the caller should redeliver the job.
func (e *Engine) Run(ctx context.Context, job Job) (Result, error) {
	s, ok := e.Strategy(job.Kind)
	if !ok {
		return Result{Job: job}, &JobError{Op: "dispatch", Job: job, Err: fmt.Errorf("%w %q", ErrUnknownKind, job.Kind)}
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	pol := s.Policy().withDefaults()

	if pol.BestEffort {
		return e.runBestEffort(ctx, s, job), nil
	}

	res := Result{Job: job}

	rec, err := e.records.Get(ctx, job.RecordID)
	if err != nil {
		return res, &JobError{Op: "load record", Job: job, Err: err}
	}
	if rec == nil {
		res.Outcome = OutcomeDropped
		res.add(e.now(), EventDropped, "record no longer exists")
		return res, nil
	}
	if rec.IsTerminal() {
		return e.duplicate(ctx, rec, job, res, "record already "+rec.Status)
	}
	if rec.ExternalTaskID != job.ExternalTaskID {
		res.Outcome = OutcomeDuplicate
		res.add(e.now(), EventDuplicate, fmt.Sprintf("record now tracks task %q", rec.ExternalTaskID))
		return res, nil
	}
	if err := e.records.RecordAttempt(ctx, rec.ID, job.ExternalTaskID, job.Attempt); err != nil {
		return res, &JobError{Op: "record attempt", Job: job, Err: err}
	}

	obs, err := s.Observe(ctx, job)
	if err != nil {
		if job.Attempt < pol.MaxAttempts {
			res.add(e.now(), EventTransient, err.Error())
			return e.reschedule(job, pol, res), nil
		}
		msg := fmt.Sprintf("%s gave up after %d attempts: %v", job.Kind, pol.MaxAttempts, err)
		return e.exhaust(ctx, s, rec, job, res, msg)
	}

	if obs.State == StateRunning {
		return e.running(ctx, s, rec, job, pol, obs, res)
	}
	return e.settle(ctx, s, rec, job, pol, obs, res)
}

func (e *Engine) runBestEffort(ctx context.Context, s Strategy, job Job) Result {
	res := Result{Job: job}
	obs, err := s.Observe(ctx, job)
	switch {
	case err != nil:
		res.Outcome = OutcomeDropped
		res.add(e.now(), EventDropped, err.Error())
	case obs.State == StateFailed:
		res.Outcome = OutcomeDropped
		res.add(e.now(), EventDropped, obs.Error)
	default:
		res.Outcome = OutcomeCompleted
		res.add(e.now(), EventSampled, "")
	}
	return res
}

func (e *Engine) running(ctx context.Context, s Strategy, rec *taskstore.Record, job Job, pol Policy, obs Observation, res Result) (Result, error) {
	now := e.now()
	if rec.MarkRunning(now) {
		if err := e.records.Update(ctx, rec); err != nil {
			return res, &JobError{Op: "start record", Job: job, Err: err}
		}
		res.add(now, EventStarted, "")
	}

	if r, ok := s.(ProgressReporter); ok {
		pct, known, err := r.Report(ctx, rec, job, obs)
		if err != nil {
			return res, &JobError{Op: "report progress", Job: job, Err: err}
		}
		if known {
			res.addPercent(now, EventProgress, transferMessage(obs), pct)
		}
	} else if obs.Transfer != nil {
		res.addPercent(now, EventProgress, transferMessage(obs), obs.Transfer.Percent)
	}

	if job.Attempt < pol.MaxAttempts {
		return e.reschedule(job, pol, res), nil
	}
	msg := fmt.Sprintf("%s did not finish after %d attempts (~%s)", job.Kind, pol.MaxAttempts, pol.Ceiling())
	return e.exhaust(ctx, s, rec, job, res, msg)
}

func transferMessage(obs Observation) string {
	if obs.Transfer == nil {
		return ""
	}
	return fmt.Sprintf("%s of %s", obs.Transfer.Current, obs.Transfer.Total)
}

func (e *Engine) reschedule(job Job, pol Policy, res Result) Result {
	next := job.retry(e.now())
	res.Outcome = OutcomeRescheduled
	res.Next = &next
	res.Delay = pol.Delay
	res.add(e.now(), EventRescheduled, fmt.Sprintf("attempt %d of %d in %s", next.Attempt, pol.MaxAttempts, pol.Delay))
	return res
}

func (e *Engine) settle(ctx context.Context, s Strategy, rec *taskstore.Record, job Job, pol Policy, obs Observation, res Result) (Result, error) {
	now := e.now()

	var st Settlement
	if settler, ok := s.(Settler); ok {
		var err error
		st, err = settler.Settle(ctx, rec, job, obs, now)
		if err != nil {
			return res, &JobError{Op: "settle", Job: job, Err: err}
		}
	} else if obs.State == StateSucceeded {
		rec.MarkCompleted(now, obs.Size)
	} else {
		rec.MarkFailed(now, obs.Error)
	}
	res.Events = append(res.Events, st.Events...)

	if st.Delete {
		if err := e.records.Delete(ctx, rec.ID); err != nil && !errors.Is(err, taskstore.ErrNotFound) {
			return res, &JobError{Op: "delete record", Job: job, Err: err}
		}
		res.Outcome = OutcomeDeleted
		res.add(now, EventDeleted, "")
		return e.release(ctx, rec, job, res)
	}

	if dup, err := e.save(ctx, rec, job); err != nil {
		return res, err
	} else if dup {
		res.Outcome = OutcomeDuplicate
		res.Events = nil
		res.add(now, EventDuplicate, "record settled by another delivery")
		return res, nil
	}

	if st.Continue != nil && !rec.IsTerminal() {
		next, events, err := st.Continue(ctx, rec)
		res.Events = append(res.Events, events...)
		if err != nil {
			// The record has left its previous task, so a redelivery
			// could never settle it. Fail it here instead.
			next = nil
			rec.MarkFailed(now, fmt.Sprintf("could not continue %s: %v", rec.Kind, err))
		}
		if err := e.records.Update(ctx, rec); err != nil {
			return res, &JobError{Op: "save record", Job: job, Err: err}
		}
		if next != nil {
			res.Next = next
			res.Delay = pol.Delay
		}
	}

	switch rec.Status {
	case taskstore.StatusCompleted:
		res.Outcome = OutcomeCompleted
		res.add(now, EventCompleted, "")
	case taskstore.StatusFailed:
		res.Outcome = OutcomeFailed
		res.add(now, EventFailed, rec.Error)
	default:
		res.Outcome = OutcomeAdvanced
		return res, nil
	}
	return e.release(ctx, rec, job, res)
}

func (e *Engine) exhaust(ctx context.Context, s Strategy, rec *taskstore.Record, job Job, res Result, msg string) (Result, error) {
	now := e.now()
	if h, ok := s.(ExhaustionHandler); ok {
		if err := h.OnRetriesExhausted(ctx, rec, job, msg, now); err != nil {
			return res, &JobError{Op: "exhaust", Job: job, Err: err}
		}
	} else {
		rec.MarkFailed(now, msg)
	}

	if dup, err := e.save(ctx, rec, job); err != nil {
		return res, err
	} else if dup {
		res.Outcome = OutcomeDuplicate
		res.Events = nil
		res.add(now, EventDuplicate, "record settled by another delivery")
		return res, nil
	}

	res.Outcome = OutcomeExhausted
	res.add(now, EventExhausted, msg)
	return e.release(ctx, rec, job, res)
}

// save writes rec. dup is true when another delivery settled the record
// first, in which case this attempt must not touch it again.
func (e *Engine) save(ctx context.Context, rec *taskstore.Record, job Job) (dup bool, err error) {
	err = e.records.Update(ctx, rec)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, taskstore.ErrVersionConflict) && !errors.Is(err, taskstore.ErrNotFound) {
		return false, &JobError{Op: "save record", Job: job, Err: err}
	}

	current, getErr := e.records.Get(ctx, rec.ID)
	if getErr != nil {
		return false, &JobError{Op: "reload record", Job: job, Err: getErr}
	}
	if current == nil || current.IsTerminal() || current.ExternalTaskID != job.ExternalTaskID {
		return true, nil
	}
	return false, &JobError{Op: "save record", Job: job, Err: err}
}

func (e *Engine) duplicate(ctx context.Context, rec *taskstore.Record, job Job, res Result, msg string) (Result, error) {
	res.Outcome = OutcomeDuplicate
	res.add(e.now(), EventDuplicate, msg)
	return e.release(ctx, rec, job, res)
}

// release drops the record's resource lock. Releasing by token is
// idempotent and never frees a lock re-acquired by someone else.
func (e *Engine) release(ctx context.Context, rec *taskstore.Record, job Job, res Result) (Result, error) {
	if e.locks == nil || rec.LockToken == "" {
		return res, nil
	}
	released, err := e.locks.ReleaseToken(ctx, rec.ResourceID, rec.LockToken)
	if err != nil {
		return res, &JobError{Op: "release lock", Job: job, Err: err}
	}
	if released {
		res.add(e.now(), EventLockReleased, rec.ResourceID)
	}
	return res, nil
}
