// Package hypervisor defines the contracts vpsd consumes from a hypervisor
// API: querying task state, starting tasks and reading usage counters.
package hypervisor

import (
	"context"
	"errors"
	"time"
)

// Task states reported by the hypervisor.
const (
	TaskRunning = "running"
	TaskStopped = "stopped"
)

// ExitOK is the exit status of a task that finished successfully.
const ExitOK = "OK"

var (
	// ErrUnreachable means the hypervisor API could not be contacted.
	ErrUnreachable = errors.New("hypervisor unreachable")

	// ErrNotFound means the task or resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized means the API rejected the configured credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited means the API asked the caller to back off.
	ErrRateLimited = errors.New("rate limited")

	// ErrMalformedResponse means the API answered with something that
	// cannot be interpreted.
	ErrMalformedResponse = errors.New("malformed hypervisor response")

	// ErrUnsupportedTask is returned by StartTask for a task type the
	// provider has no equivalent for.
	ErrUnsupportedTask = errors.New("task type not supported by provider")
)

// TaskStatus is a snapshot of a hypervisor task.
type TaskStatus struct {
	Status     string   `json:"status"`
	ExitStatus *string  `json:"exitstatus,omitempty"`
	Size       *int64   `json:"size,omitempty"`
	LogLines   []string `json:"log_lines,omitempty"`
}

// IsRunning reports whether the task is still in progress.
func (s *TaskStatus) IsRunning() bool { return s.Status == TaskRunning }

// Succeeded reports whether the task stopped with exit status OK.
func (s *TaskStatus) Succeeded() bool {
	return s.Status == TaskStopped && s.ExitStatus != nil && *s.ExitStatus == ExitOK
}

// Handle references a task running on the hypervisor. It is immutable once
// created.
type Handle struct {
	ResourceID     string    `json:"resource_id"`
	ExternalTaskID string    `json:"external_task_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewHandle returns a handle for taskID on resourceID created now.
func NewHandle(resourceID, taskID string) Handle {
	return Handle{ResourceID: resourceID, ExternalTaskID: taskID, CreatedAt: time.Now().UTC()}
}

// Usage is a point-in-time sample of a resource's counters.
type Usage struct {
	ResourceID string    `json:"resource_id"`
	SampledAt  time.Time `json:"sampled_at"`
	CPUPercent float64   `json:"cpu_percent"`
	DiskRead   float64   `json:"disk_read_bps"`
	DiskWrite  float64   `json:"disk_write_bps"`
	NetworkIn  float64   `json:"network_in_bps"`
	NetworkOut float64   `json:"network_out_bps"`
}

// TaskClient queries task state.
type TaskClient interface {
	GetTaskStatus(ctx context.Context, externalTaskID string) (*TaskStatus, error)
}

// ActionClient starts tasks. Only triggering code calls it; monitoring
// never creates tasks except to chain rebuild steps.
type ActionClient interface {
	StartTask(ctx context.Context, resourceID, taskType string) (string, error)
}

// UsageClient reads resource usage counters.
type UsageClient interface {
	GetUsage(ctx context.Context, resourceID string) (*Usage, error)
}

// Str returns a pointer to s. Convenient when building TaskStatus values.
func Str(s string) *string { return &s }

// Int64 returns a pointer to n.
func Int64(n int64) *int64 { return &n }
