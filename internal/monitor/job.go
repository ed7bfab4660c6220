// Package monitor drives hypervisor tasks to completion.
//
// A monitoring job is one attempt at observing a task. The Engine runs an
// attempt and returns a Result; it never sleeps or loops. If the task is
// still running, the Result carries the next attempt, which the caller
// hands to a Scheduler. Every attempt re-derives its state from the task
// record and the external task id, so attempts may run on any worker and
// may be delivered more than once.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"nathanbeddoewebdev/vpsd/internal/taskstore"
)

// KindUsageSync is the best-effort job that samples resource usage. It owns
// no task record.
const KindUsageSync = "usage_sync"

// Job is a single schedulable monitoring attempt. It is the queue payload.
type Job struct {
	// ID identifies the logical chain of attempts. Reschedules keep it.
	ID string `json:"id"`

	Kind string `json:"kind"`

	// RecordID is the task record the job settles. Zero for best-effort
	// kinds.
	RecordID int64 `json:"record_id,omitempty"`

	ResourceID     string `json:"resource_id"`
	ExternalTaskID string `json:"external_task_id,omitempty"`

	// Step is the rebuild step being polled, for diagnostics.
	Step string `json:"step,omitempty"`

	// Attempt is 1-based.
	Attempt int `json:"attempt"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob returns the first attempt of a job monitoring taskID.
func NewJob(kind string, recordID int64, resourceID, taskID string) Job {
	return Job{
		ID:             uuid.NewString(),
		Kind:           kind,
		RecordID:       recordID,
		ResourceID:     resourceID,
		ExternalTaskID: taskID,
		Attempt:        1,
		EnqueuedAt:     time.Now().UTC(),
	}
}

// ForRecord returns the first attempt of a job monitoring rec's current
// task.
func ForRecord(rec *taskstore.Record) Job {
	job := NewJob(string(rec.Kind), rec.ID, rec.ResourceID, rec.ExternalTaskID)
	job.Step = rec.Step
	return job
}

// ResumeRecord returns the attempt that continues rec's chain after the
// last attempt recorded on it, so a resumed chain keeps the budget it has
// left.
func ResumeRecord(rec *taskstore.Record) Job {
	job := ForRecord(rec)
	if rec.Attempt > 0 {
		job.Attempt = rec.Attempt + 1
	}
	return job
}

// retry returns the attempt that follows j.
func (j Job) retry(now time.Time) Job {
	next := j
	next.Attempt++
	next.EnqueuedAt = now.UTC()
	return next
}

func (j Job) String() string {
	return fmt.Sprintf("%s job %s (record %d, resource %s, task %s, attempt %d)",
		j.Kind, j.ID, j.RecordID, j.ResourceID, j.ExternalTaskID, j.Attempt)
}

// Policy bounds how long a kind of job keeps polling.
type Policy struct {
	// MaxAttempts is the number of observations before giving up.
	MaxAttempts int

	// Delay separates consecutive attempts.
	Delay time.Duration

	// BestEffort jobs own no record. Errors are dropped instead of
	// retried.
	BestEffort bool
}

// Ceiling is the approximate wall-clock budget of the policy.
func (p Policy) Ceiling() time.Duration {
	return time.Duration(p.MaxAttempts) * p.Delay
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// Scheduler delivers jobs to workers after a delay. Delivery is
// at-least-once.
type Scheduler interface {
	Enqueue(ctx context.Context, job Job, delay time.Duration) error
}

// LockReleaser releases a resource lock acquired by the triggering action.
type LockReleaser interface {
	ReleaseToken(ctx context.Context, resourceID, token string) (bool, error)
}

// JobError is an unexpected failure while running an attempt, such as the
// task store being unavailable. The attempt should be redelivered.
type JobError struct {
	Op  string
	Job Job
	Err error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("monitor: %s %s: %v", e.Op, e.Job, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }
