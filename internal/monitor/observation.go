package monitor

import (
	"fmt"
	"time"

	"nathanbeddoewebdev/vpsd/internal/hypervisor"
	"nathanbeddoewebdev/vpsd/internal/progress"
)

// State is the monitoring view of a task.
type State int

const (
	StateRunning State = iota + 1
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Observation is what an attempt learned about its task.
type Observation struct {
	State State

	// Size is reported on success by tasks that produce an artifact.
	Size *int64

	// Error is the hypervisor's failure text, recorded verbatim.
	Error string

	// Transfer is the latest progress marker in the task log, if any.
	Transfer *progress.Transfer
}

// MapTaskStatus converts a hypervisor task snapshot into an Observation.
// Anything that is neither running nor a clean stop is a failure.
func MapTaskStatus(st *hypervisor.TaskStatus) Observation {
	if st == nil {
		return Observation{State: StateFailed, Error: "empty task status"}
	}

	switch st.Status {
	case hypervisor.TaskRunning:
		obs := Observation{State: StateRunning}
		if t, ok := progress.Parse(st.LogLines); ok {
			obs.Transfer = &t
		}
		return obs
	case hypervisor.TaskStopped:
		if st.Succeeded() {
			return Observation{State: StateSucceeded, Size: st.Size}
		}
		if st.ExitStatus == nil || *st.ExitStatus == "" {
			return Observation{State: StateFailed, Error: "task stopped without an exit status"}
		}
		return Observation{State: StateFailed, Error: *st.ExitStatus}
	default:
		return Observation{State: StateFailed, Error: fmt.Sprintf("unrecognized task status %q", st.Status)}
	}
}

// EventType classifies an Event.
type EventType string

const (
	EventStarted      EventType = "started"
	EventProgress     EventType = "progress"
	EventRescheduled  EventType = "rescheduled"
	EventTransient    EventType = "transient_error"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
	EventExhausted    EventType = "exhausted"
	EventDeleted      EventType = "deleted"
	EventDropped      EventType = "dropped"
	EventDuplicate    EventType = "duplicate"
	EventLockReleased EventType = "lock_released"
	EventStepDone     EventType = "step_completed"
	EventStepStarted  EventType = "step_started"
	EventStepFailed   EventType = "step_failed"
	EventStepSkipped  EventType = "step_skipped"
	EventSampled      EventType = "sampled"
)

// Event is one thing that happened during an attempt. Events are returned
// to the caller, which decides how to surface them.
type Event struct {
	Type    EventType `json:"type"`
	At      time.Time `json:"at"`
	Message string    `json:"message,omitempty"`
	Percent *float64  `json:"percent,omitempty"`
}

// Outcome summarizes an attempt.
type Outcome string

const (
	// OutcomeRescheduled means the task is still running and Next polls
	// it again.
	OutcomeRescheduled Outcome = "rescheduled"

	// OutcomeAdvanced means the task finished and the record moved on to
	// another stage. Next monitors that stage when it was started here.
	OutcomeAdvanced Outcome = "advanced"

	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeDeleted   Outcome = "deleted"

	// OutcomeExhausted means the retry budget ran out and the record was
	// failed with a synthetic error.
	OutcomeExhausted Outcome = "exhausted"

	// OutcomeDropped means there was nothing to do: the record is gone or
	// a best-effort attempt failed.
	OutcomeDropped Outcome = "dropped"

	// OutcomeDuplicate means another delivery already settled the record
	// or moved it past this job's task.
	OutcomeDuplicate Outcome = "duplicate"
)

// Result is the explicit output of one attempt.
type Result struct {
	Job     Job
	Outcome Outcome
	Events  []Event

	// Next is the attempt to schedule after Delay, or nil when the chain
	// ends here.
	Next  *Job
	Delay time.Duration
}

func (r *Result) add(at time.Time, typ EventType, msg string) {
	r.Events = append(r.Events, Event{Type: typ, At: at.UTC(), Message: msg})
}

func (r *Result) addPercent(at time.Time, typ EventType, msg string, pct float64) {
	r.Events = append(r.Events, Event{Type: typ, At: at.UTC(), Message: msg, Percent: &pct})
}
