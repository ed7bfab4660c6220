// Package rebuild is the triggering side of a server rebuild: it takes the
// resource lock, records the rebuild and its steps, and hands the first
// step to the monitoring queue.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nathanbeddoewebdev/vpsd/internal/hypervisor"
	"nathanbeddoewebdev/vpsd/internal/monitor"
	"nathanbeddoewebdev/vpsd/internal/progress"
	"nathanbeddoewebdev/vpsd/internal/services/lock"
	"nathanbeddoewebdev/vpsd/internal/steps"
	"nathanbeddoewebdev/vpsd/internal/stepstore"
	"nathanbeddoewebdev/vpsd/internal/taskstore"
	"nathanbeddoewebdev/vpsd/internal/units"
)

var (
	// ErrNotFound is returned for an unknown rebuild id.
	ErrNotFound = errors.New("rebuild not found")

	// ErrFinished is returned when advancing a completed or failed rebuild.
	ErrFinished = errors.New("rebuild already finished")

	// ErrStepInFlight is returned when advancing while a step's task is
	// still being monitored.
	ErrStepInFlight = errors.New("current step is still running")

	// ErrTaskRequired is returned when no task id is given and no action
	// client is configured to start one.
	ErrTaskRequired = errors.New("a hypervisor task id is required")
)

// Service starts and advances rebuilds.
type Service struct {
	records taskstore.Repository
	steps   stepstore.Repository
	locks   *lock.Service
	sched   monitor.Scheduler
	actions hypervisor.ActionClient
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithActions lets the service start step tasks itself.
func WithActions(a hypervisor.ActionClient) Option {
	return func(s *Service) { s.actions = a }
}

// WithClock replaces time.Now. Intended for testing.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a rebuild service.
func NewService(records taskstore.Repository, stepRepo stepstore.Repository, locks *lock.Service, sched monitor.Scheduler, opts ...Option) *Service {
	s := &Service{
		records: records,
		steps:   stepRepo,
		locks:   locks,
		sched:   sched,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin starts a rebuild of resourceID. firstTaskID is the hypervisor task
// already running the first step; when empty the service starts it. If
// another destructive operation holds the resource, Begin returns an
// error wrapping lock.ErrInProgress.
func (s *Service) Begin(ctx context.Context, resourceID, firstTaskID string) (*taskstore.Record, error) {
	var rec *taskstore.Record

	_, err := s.locks.Guard(ctx, resourceID, func(ctx context.Context, token string) error {
		taskID, err := s.startTask(ctx, resourceID, steps.First(), firstTaskID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		rec = &taskstore.Record{
			Kind:           taskstore.KindRebuild,
			ResourceID:     resourceID,
			ExternalTaskID: taskID,
			Label:          "rebuild " + resourceID,
			Status:         taskstore.StatusRunning,
			Step:           string(steps.First()),
			Progress:       steps.ProgressPercentage(steps.First()),
			LockToken:      token,
			StartedAt:      &now,
		}
		if err := s.records.Create(ctx, rec); err != nil {
			return err
		}

		if err := s.seed(ctx, rec, taskID, now); err != nil {
			return s.abandon(ctx, rec, err)
		}
		if err := s.sched.Enqueue(ctx, monitor.ForRecord(rec), 0); err != nil {
			return s.abandon(ctx, rec, fmt.Errorf("rebuild: enqueue: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) seed(ctx context.Context, rec *taskstore.Record, taskID string, now time.Time) error {
	for i, name := range steps.Order {
		st := &stepstore.Step{
			ParentID: rec.ID,
			Name:     string(name),
			Status:   steps.StatusPending,
			Order:    i,
		}
		if i == 0 {
			if err := st.Start(now, taskID); err != nil {
				return err
			}
		}
		if err := s.steps.Create(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// abandon fails a rebuild that could not be handed to the queue.
func (s *Service) abandon(ctx context.Context, rec *taskstore.Record, cause error) error {
	rec.MarkFailed(s.now(), cause.Error())
	if err := s.records.Update(ctx, rec); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *Service) startTask(ctx context.Context, resourceID string, step steps.RebuildStep, taskID string) (string, error) {
	if taskID != "" {
		return taskID, nil
	}
	if s.actions == nil {
		return "", fmt.Errorf("%s: %w", steps.Label(step), ErrTaskRequired)
	}
	id, err := s.actions.StartTask(ctx, resourceID, steps.TaskType(step))
	if err != nil {
		return "", fmt.Errorf("could not start %s: %w", steps.Label(step), err)
	}
	return id, nil
}

// Advance starts the rebuild's current step with taskID (or a task the
// service starts) and enqueues its monitoring job. It is used when the
// worker has no action client and the record waits between steps.
func (s *Service) Advance(ctx context.Context, recordID int64, taskID string) (*taskstore.Record, error) {
	rec, err := s.load(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.IsTerminal() {
		return nil, fmt.Errorf("rebuild %d: %w", recordID, ErrFinished)
	}
	if rec.ExternalTaskID != "" {
		return nil, fmt.Errorf("rebuild %d: %s task %s: %w", recordID, rec.Step, rec.ExternalTaskID, ErrStepInFlight)
	}

	step, err := steps.ParseStep(rec.Step)
	if err != nil {
		return nil, err
	}
	taskID, err = s.startTask(ctx, rec.ResourceID, step, taskID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	list, err := s.steps.ListByParent(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Name != rec.Step || list[i].Status != steps.StatusPending {
			continue
		}
		if err := list[i].Start(now, taskID); err != nil {
			return nil, err
		}
		if err := s.steps.Update(ctx, &list[i]); err != nil {
			return nil, err
		}
	}

	rec.ExternalTaskID = taskID
	if err := s.records.Update(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.sched.Enqueue(ctx, monitor.ForRecord(rec), 0); err != nil {
		return nil, fmt.Errorf("rebuild: enqueue: %w", err)
	}
	return rec, nil
}

// Progress is a snapshot of a rebuild.
type Progress struct {
	Record  *taskstore.Record
	Step    steps.RebuildStep
	Percent float64
	Steps   []stepstore.Step
}

// Progress reports where rebuild recordID is. For the step with
// sub-progress, the percentage parsed from its task log is interpolated;
// steps recorded without one fall back to their transfer summary.
func (s *Service) Progress(ctx context.Context, recordID int64) (*Progress, error) {
	rec, err := s.load(ctx, recordID)
	if err != nil {
		return nil, err
	}
	list, err := s.steps.ListByParent(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	step, _ := steps.ParseStep(rec.Step)
	p := &Progress{Record: rec, Step: step, Steps: list, Percent: rec.Progress}
	switch {
	case rec.Status == taskstore.StatusCompleted:
		p.Percent = 100
	case rec.IsTerminal():
	case steps.HasProgress(step):
		p.Percent = steps.ProgressPercentage(step)
		for _, st := range list {
			if st.Name != rec.Step {
				continue
			}
			if st.Percent > 0 {
				p.Percent = steps.Interpolate(step, min(st.Percent, progress.MaxPercent))
			} else if sub, ok := SubProgress(st.Output); ok {
				p.Percent = steps.Interpolate(step, sub)
			}
		}
	default:
		p.Percent = steps.ProgressPercentage(step)
	}
	return p, nil
}

// SubProgress reads a "<current> of <total>" transfer summary and returns
// the completed percentage, capped at progress.MaxPercent like the parser.
func SubProgress(output string) (float64, bool) {
	cur, total, ok := strings.Cut(output, " of ")
	if !ok {
		return 0, false
	}
	c, err := units.ParseSize(cur)
	if err != nil {
		return 0, false
	}
	t, err := units.ParseSize(total)
	if err != nil || t <= 0 {
		return 0, false
	}
	return min(float64(c)/float64(t)*100, progress.MaxPercent), true
}

func (s *Service) load(ctx context.Context, recordID int64) (*taskstore.Record, error) {
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Kind != taskstore.KindRebuild {
		return nil, fmt.Errorf("rebuild %d: %w", recordID, ErrNotFound)
	}
	return rec, nil
}
