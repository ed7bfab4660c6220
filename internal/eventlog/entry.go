package eventlog

import "time"

// Entry is a persisted monitoring event.
type Entry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	JobID      string    `json:"job_id"`
	Kind       string    `json:"kind"`
	RecordID   int64     `json:"record_id,omitempty"`
	ResourceID string    `json:"resource_id,omitempty"`
	TaskID     string    `json:"task_id,omitempty"`
	Attempt    int       `json:"attempt"`
	Type       string    `json:"type"`
	Message    string    `json:"message,omitempty"`
	Percent    *float64  `json:"percent,omitempty"`
}
