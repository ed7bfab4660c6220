// Package tasks is the triggering side for single-task operations: it
// records a hypervisor task and hands it to the monitoring queue.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nathanbeddoewebdev/vpsd/internal/hypervisor"
	"nathanbeddoewebdev/vpsd/internal/monitor"
	"nathanbeddoewebdev/vpsd/internal/services/lock"
	"nathanbeddoewebdev/vpsd/internal/taskstore"
)

var (
	// ErrTaskRequired is returned when no task id is given and none can
	// be started.
	ErrTaskRequired = errors.New("a hypervisor task id is required")

	// ErrRebuildKind is returned for rebuild requests, which go through
	// the rebuild service.
	ErrRebuildKind = errors.New("rebuilds are started with the rebuild service")
)

// DefaultTaskTypes maps kinds to the hypervisor task started for them when
// the request names none.
var DefaultTaskTypes = map[taskstore.Kind]string{
	taskstore.KindBackupCreate: "vzdump",
}

// exclusive kinds take the resource lock even when the request does not
// ask for it.
var exclusive = map[taskstore.Kind]bool{
	taskstore.KindBackupRestore: true,
}

// Request describes an operation to track.
type Request struct {
	Kind       taskstore.Kind
	ResourceID string

	// TaskID references a task already running on the hypervisor. When
	// empty the service starts TaskType (or the kind's default).
	TaskID   string
	TaskType string

	Label string

	// Lock holds the resource lock until the operation finishes.
	Lock bool
}

// Service records operations and enqueues their monitoring jobs.
type Service struct {
	records taskstore.Repository
	locks   *lock.Service
	sched   monitor.Scheduler
	actions hypervisor.ActionClient
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithActions lets the service start tasks itself.
func WithActions(a hypervisor.ActionClient) Option {
	return func(s *Service) { s.actions = a }
}

// WithClock replaces time.Now. Intended for testing.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a tasks service.
func NewService(records taskstore.Repository, locks *lock.Service, sched monitor.Scheduler, opts ...Option) *Service {
	s := &Service{records: records, locks: locks, sched: sched, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Track creates the record for req and enqueues its first monitoring job.
func (s *Service) Track(ctx context.Context, req Request) (*taskstore.Record, error) {
	if _, err := taskstore.ParseKind(string(req.Kind)); err != nil {
		return nil, err
	}
	if req.Kind == taskstore.KindRebuild {
		return nil, ErrRebuildKind
	}
	if req.ResourceID == "" {
		return nil, errors.New("tasks: resource id is required")
	}

	var rec *taskstore.Record
	start := func(ctx context.Context, token string) error {
		var err error
		rec, err = s.create(ctx, req, token)
		return err
	}

	if req.Lock || exclusive[req.Kind] {
		if _, err := s.locks.Guard(ctx, req.ResourceID, start); err != nil {
			return nil, err
		}
		return rec, nil
	}
	if err := start(ctx, ""); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) create(ctx context.Context, req Request, token string) (*taskstore.Record, error) {
	taskID, err := s.startTask(ctx, req)
	if err != nil {
		return nil, err
	}

	rec := &taskstore.Record{
		Kind:           req.Kind,
		ResourceID:     req.ResourceID,
		ExternalTaskID: taskID,
		Label:          req.Label,
		Status:         taskstore.StatusPending,
		LockToken:      token,
	}
	if req.Kind == taskstore.KindBackupDelete {
		rec.Status = taskstore.StatusDeleting
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, err
	}

	if err := s.sched.Enqueue(ctx, monitor.ForRecord(rec), 0); err != nil {
		cause := fmt.Errorf("tasks: enqueue: %w", err)
		rec.MarkFailed(s.now(), cause.Error())
		if uerr := s.records.Update(ctx, rec); uerr != nil {
			return nil, errors.Join(cause, uerr)
		}
		return nil, cause
	}
	return rec, nil
}

func (s *Service) startTask(ctx context.Context, req Request) (string, error) {
	if req.TaskID != "" {
		return req.TaskID, nil
	}
	taskType := req.TaskType
	if taskType == "" {
		taskType = DefaultTaskTypes[req.Kind]
	}
	if s.actions == nil || taskType == "" {
		return "", fmt.Errorf("%s: %w", req.Kind, ErrTaskRequired)
	}
	id, err := s.actions.StartTask(ctx, req.ResourceID, taskType)
	if err != nil {
		return "", fmt.Errorf("could not start %s for %s: %w", taskType, req.ResourceID, err)
	}
	return id, nil
}
