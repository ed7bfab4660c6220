package taskstore

import (
	"fmt"
	"time"
)

// Kind identifies the operation a record tracks.
type Kind string

const (
	KindBackupCreate  Kind = "backup_create"
	KindBackupRestore Kind = "backup_restore"
	KindBackupDelete  Kind = "backup_delete"
	KindISODownload   Kind = "iso_download"
	KindRebuild       Kind = "rebuild"
)

// Kinds lists every record kind.
var Kinds = []Kind{KindBackupCreate, KindBackupRestore, KindBackupDelete, KindISODownload, KindRebuild}

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown task kind %q", s)
}

// Record statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusDeleting  = "deleting"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Record is the local view of an operation running on the hypervisor.
// Only its own monitoring job chain and explicit user actions mutate it.
type Record struct {
	// ID is the auto-increment primary key (assigned on insert).
	ID int64 `json:"id"`

	Kind Kind `json:"kind"`

	// ResourceID is the hypervisor resource the operation acts on.
	ResourceID string `json:"resource_id"`

	// ExternalTaskID is the hypervisor's task identifier being polled. For
	// a rebuild it is the task of the current step.
	ExternalTaskID string `json:"external_task_id"`

	// Label is a human-readable name (backup name, ISO file name).
	Label string `json:"label,omitempty"`

	// Status is one of pending, running, deleting, completed or failed.
	Status string `json:"status"`

	// Step is the current rebuild step. Empty for other kinds.
	Step string `json:"step,omitempty"`

	// Progress is a percentage (0–100). Only a terminal success sets 100.
	Progress float64 `json:"progress"`

	// SizeBytes is the size reported by the hypervisor on success.
	SizeBytes *int64 `json:"size_bytes,omitempty"`

	// Error holds the failure reported by the hypervisor or a synthetic
	// message when monitoring gave up.
	Error string `json:"error,omitempty"`

	// LockToken identifies the resource lock acquired for this operation.
	LockToken string `json:"-"`

	// Version is bumped on every update and guards against lost writes.
	Version int64 `json:"version"`

	// Attempt is the last monitoring attempt run against ExternalTaskID.
	// Zero until the first attempt, and again after the task changes.
	Attempt int `json:"attempt,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsTerminal reports whether no further transitions are possible.
func (r *Record) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// MarkRunning moves a pending record to running. It reports whether the
// record changed.
func (r *Record) MarkRunning(now time.Time) bool {
	if r.Status != StatusPending {
		return false
	}
	r.Status = StatusRunning
	if r.StartedAt == nil {
		t := now.UTC()
		r.StartedAt = &t
	}
	return true
}

// MarkCompleted records a successful finish.
func (r *Record) MarkCompleted(now time.Time, size *int64) {
	t := now.UTC()
	r.Status = StatusCompleted
	r.Progress = 100
	r.Error = ""
	if size != nil {
		r.SizeBytes = size
	}
	r.CompletedAt = &t
}

// MarkFailed records a failed finish with msg.
func (r *Record) MarkFailed(now time.Time, msg string) {
	t := now.UTC()
	r.Status = StatusFailed
	r.Error = msg
	r.CompletedAt = &t
}
