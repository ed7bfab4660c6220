package stepstore

import (
	"fmt"
	"time"

	"nathanbeddoewebdev/vpsd/internal/steps"
)

// Step is one persisted stage of a multi-step operation.
type Step struct {
	ID int64 `json:"id"`

	// ParentID is the task record the step belongs to.
	ParentID int64 `json:"parent_id"`

	Name   string       `json:"name"`
	Status steps.Status `json:"status"`

	// Order is the explicit sequence number; steps are listed by it.
	Order int `json:"order"`

	// ExternalTaskID is the hypervisor task that executes the step.
	ExternalTaskID string `json:"external_task_id,omitempty"`

	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`

	// Percent is the parsed sub-progress of the step's task, never above
	// progress.MaxPercent.
	Percent float64 `json:"percent,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Start moves the step to running at now.
func (s *Step) Start(now time.Time, taskID string) error {
	if err := s.move(steps.StatusRunning); err != nil {
		return err
	}
	t := now.UTC()
	s.StartedAt = &t
	s.ExternalTaskID = taskID
	return nil
}

// Complete marks a running step completed.
func (s *Step) Complete(now time.Time, output string) error {
	if err := s.move(steps.StatusCompleted); err != nil {
		return err
	}
	s.finish(now)
	s.Output = output
	return nil
}

// Fail marks a running step failed with msg.
func (s *Step) Fail(now time.Time, msg string) error {
	if err := s.move(steps.StatusFailed); err != nil {
		return err
	}
	s.finish(now)
	s.Error = msg
	return nil
}

// Skip marks a pending or running step skipped.
func (s *Step) Skip(now time.Time) error {
	if err := s.move(steps.StatusSkipped); err != nil {
		return err
	}
	s.finish(now)
	return nil
}

func (s *Step) move(to steps.Status) error {
	if !steps.CanMove(s.Status, to) {
		return fmt.Errorf("steps: %s cannot move from %s to %s", s.Name, s.Status, to)
	}
	s.Status = to
	return nil
}

func (s *Step) finish(now time.Time) {
	t := now.UTC()
	s.CompletedAt = &t
}

// Duration is the time between start and completion. ok is false if
// either timestamp is missing.
func (s *Step) Duration() (d time.Duration, ok bool) {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0, false
	}
	return s.CompletedAt.Sub(*s.StartedAt), true
}

// HumanDuration renders Duration as "45s", "2m 5s" or "1h 3m". It returns
// "" when the duration is unknown.
func (s *Step) HumanDuration() string {
	d, ok := s.Duration()
	if !ok {
		return ""
	}
	return FormatDuration(d)
}

// FormatDuration renders d at second resolution.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}
