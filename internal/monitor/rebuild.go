package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nathanbeddoewebdev/vpsd/internal/hypervisor"
	"nathanbeddoewebdev/vpsd/internal/steps"
	"nathanbeddoewebdev/vpsd/internal/stepstore"
	"nathanbeddoewebdev/vpsd/internal/taskstore"
)

// RebuildStrategy monitors a rebuild one step at a time. The record's
// Step and ExternalTaskID always name the step in flight.
//
// When an ActionClient is configured, a finished step starts the next
// step's task and the returned job monitors it. Without one, the record
// waits at the next step until its task is started externally (see
// rebuild.Service.Advance). A step whose task type the hypervisor does not
// support completes at once without a task.
type RebuildStrategy struct {
	*TaskStrategy
	steps   stepstore.Repository
	actions hypervisor.ActionClient
}

// NewRebuild returns the rebuild strategy. actions may be nil.
func NewRebuild(client hypervisor.TaskClient, stepRepo stepstore.Repository, actions hypervisor.ActionClient) *RebuildStrategy {
	return &RebuildStrategy{
		TaskStrategy: NewTaskStrategy(string(taskstore.KindRebuild), RebuildPolicy, client),
		steps:        stepRepo,
		actions:      actions,
	}
}

// Report returns the overall rebuild progress. For a step with
// sub-progress the parsed transfer is interpolated and recorded as the
// step's output.
func (r *RebuildStrategy) Report(ctx context.Context, rec *taskstore.Record, _ Job, obs Observation) (float64, bool, error) {
	step, err := steps.ParseStep(rec.Step)
	if err != nil {
		return 0, false, nil
	}
	if obs.Transfer == nil || !steps.HasProgress(step) {
		return steps.ProgressPercentage(step), true, nil
	}

	list, err := r.steps.ListByParent(ctx, rec.ID)
	if err != nil {
		return 0, false, err
	}
	if cur := find(list, rec.Step); cur != nil && cur.Status == steps.StatusRunning {
		cur.Output = transferMessage(obs)
		cur.Percent = obs.Transfer.Percent
		if err := r.steps.Update(ctx, cur); err != nil {
			return 0, false, err
		}
	}
	return steps.Interpolate(step, obs.Transfer.Percent), true, nil
}

// Settle completes the current step and moves the record to the next one,
// or fails the rebuild.
func (r *RebuildStrategy) Settle(ctx context.Context, rec *taskstore.Record, _ Job, obs Observation, now time.Time) (Settlement, error) {
	list, err := r.steps.ListByParent(ctx, rec.ID)
	if err != nil {
		return Settlement{}, err
	}
	cur := find(list, rec.Step)

	if obs.State != StateSucceeded {
		events, err := r.failFrom(ctx, list, cur, obs.Error, now)
		if err != nil {
			return Settlement{}, err
		}
		rec.MarkFailed(now, obs.Error)
		return Settlement{Events: events}, nil
	}

	var events []Event
	if cur != nil && cur.Status == steps.StatusRunning {
		if err := cur.Complete(now, cur.Output); err != nil {
			return Settlement{}, err
		}
		if err := r.steps.Update(ctx, cur); err != nil {
			return Settlement{}, err
		}
		events = append(events, stepEvent(now, EventStepDone, cur.Name))
	}

	step, err := steps.ParseStep(rec.Step)
	if err != nil {
		return Settlement{}, err
	}
	next, ok := steps.Next(step)
	if !ok {
		rec.MarkCompleted(now, nil)
		return Settlement{Events: events}, nil
	}

	rec.Step = string(next)
	rec.ExternalTaskID = ""
	rec.Progress = steps.ProgressPercentage(next)

	if steps.TaskType(next) == "" {
		done, err := r.finish(ctx, list, rec, now)
		return Settlement{Events: append(events, done...)}, err
	}
	if r.actions == nil {
		return Settlement{Events: events}, nil
	}

	return Settlement{
		Events: events,
		Continue: func(ctx context.Context, rec *taskstore.Record) (*Job, []Event, error) {
			return r.startNext(ctx, rec, now)
		},
	}, nil
}

// noTaskOutput is the output of a step the hypervisor has no task for.
const noTaskOutput = "no task needed on this provider"

// startNext starts the task of rec's current step. Steps the hypervisor
// cannot run complete without a task and the next one is tried.
func (r *RebuildStrategy) startNext(ctx context.Context, rec *taskstore.Record, now time.Time) (*Job, []Event, error) {
	list, err := r.steps.ListByParent(ctx, rec.ID)
	if err != nil {
		return nil, nil, err
	}

	var events []Event
	for {
		step := steps.RebuildStep(rec.Step)
		cur := find(list, rec.Step)
		taskType := steps.TaskType(step)
		if taskType == "" {
			done, err := r.finish(ctx, list, rec, now)
			return nil, append(events, done...), err
		}

		taskID, err := r.actions.StartTask(ctx, rec.ResourceID, taskType)
		if errors.Is(err, hypervisor.ErrUnsupportedTask) {
			if cur != nil && cur.Status == steps.StatusPending {
				if err := cur.Start(now, ""); err != nil {
					return nil, events, err
				}
				if err := cur.Complete(now, noTaskOutput); err != nil {
					return nil, events, err
				}
				if err := r.steps.Update(ctx, cur); err != nil {
					return nil, events, err
				}
			}
			events = append(events, stepEvent(now, EventStepDone, rec.Step))
			next, ok := steps.Next(step)
			if !ok {
				rec.MarkCompleted(now, nil)
				return nil, events, nil
			}
			rec.Step = string(next)
			rec.Progress = steps.ProgressPercentage(next)
			continue
		}
		if err != nil {
			msg := fmt.Sprintf("could not start %s: %v", steps.Label(step), err)
			failed, ferr := r.failFrom(ctx, list, cur, msg, now)
			events = append(events, failed...)
			if ferr != nil {
				return nil, events, ferr
			}
			rec.MarkFailed(now, msg)
			return nil, events, nil
		}

		if cur != nil {
			if err := cur.Start(now, taskID); err != nil {
				return nil, events, err
			}
			if err := r.steps.Update(ctx, cur); err != nil {
				return nil, events, err
			}
		}
		rec.ExternalTaskID = taskID
		events = append(events, stepEvent(now, EventStepStarted, rec.Step))
		job := ForRecord(rec)
		return &job, events, nil
	}
}

// finish runs the task-less final step and completes the record.
func (r *RebuildStrategy) finish(ctx context.Context, list []stepstore.Step, rec *taskstore.Record, now time.Time) ([]Event, error) {
	if cur := find(list, rec.Step); cur != nil && cur.Status == steps.StatusPending {
		if err := cur.Start(now, ""); err != nil {
			return nil, err
		}
		if err := cur.Complete(now, ""); err != nil {
			return nil, err
		}
		if err := r.steps.Update(ctx, cur); err != nil {
			return nil, err
		}
	}
	rec.MarkCompleted(now, nil)
	return []Event{stepEvent(now, EventStepDone, rec.Step)}, nil
}

// OnRetriesExhausted fails the step in flight and skips the rest.
func (r *RebuildStrategy) OnRetriesExhausted(ctx context.Context, rec *taskstore.Record, _ Job, msg string, now time.Time) error {
	list, err := r.steps.ListByParent(ctx, rec.ID)
	if err != nil {
		return err
	}
	if _, err := r.failFrom(ctx, list, find(list, rec.Step), msg, now); err != nil {
		return err
	}
	rec.MarkFailed(now, msg)
	return nil
}

// failFrom fails cur and skips every pending step after it.
func (r *RebuildStrategy) failFrom(ctx context.Context, list []stepstore.Step, cur *stepstore.Step, msg string, now time.Time) ([]Event, error) {
	var events []Event
	after := -1
	if cur != nil {
		after = cur.Order
		if cur.Status == steps.StatusRunning || cur.Status == steps.StatusPending {
			if cur.Status == steps.StatusPending {
				cur.Status = steps.StatusRunning
			}
			if err := cur.Fail(now, msg); err != nil {
				return nil, err
			}
			if err := r.steps.Update(ctx, cur); err != nil {
				return nil, err
			}
			events = append(events, stepEvent(now, EventStepFailed, cur.Name))
		}
	}

	for i := range list {
		s := &list[i]
		if s.Order <= after || s.Status != steps.StatusPending {
			continue
		}
		if err := s.Skip(now); err != nil {
			return events, err
		}
		if err := r.steps.Update(ctx, s); err != nil {
			return events, err
		}
		events = append(events, stepEvent(now, EventStepSkipped, s.Name))
	}
	return events, nil
}

func find(list []stepstore.Step, name string) *stepstore.Step {
	for i := range list {
		if list[i].Name == name {
			return &list[i]
		}
	}
	return nil
}

func stepEvent(at time.Time, typ EventType, step string) Event {
	return Event{Type: typ, At: at.UTC(), Message: steps.Label(steps.RebuildStep(step))}
}
