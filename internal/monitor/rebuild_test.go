package monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"nathanbeddoewebdev/vpsd/internal/hypervisor"
	"nathanbeddoewebdev/vpsd/internal/progress"
	"nathanbeddoewebdev/vpsd/internal/steps"
	"nathanbeddoewebdev/vpsd/internal/stepstore"
	"nathanbeddoewebdev/vpsd/internal/taskstore"
)

// fakeActions starts tasks from a table of task type to result.
type fakeActions struct {
	started []string
	fail    map[string]error
	n       int
}

func (a *fakeActions) StartTask(_ context.Context, _ string, taskType string) (string, error) {
	if err, ok := a.fail[taskType]; ok {
		return "", err
	}
	a.n++
	a.started = append(a.started, taskType)
	return fmt.Sprintf("task-%d", a.n), nil
}

func openSteps(t *testing.T, f *fixture) *stepstore.SQLiteRepository {
	t.Helper()
	repo, err := stepstore.OpenAt(f.dbPath)
	if err != nil {
		t.Fatalf("stepstore.OpenAt failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// seedRebuild creates a running rebuild at step `at` with taskID in
// flight. Earlier steps are completed.
func seedRebuild(t *testing.T, f *fixture, repo stepstore.Repository, at steps.RebuildStep, taskID string) *taskstore.Record {
	t.Helper()
	ctx := context.Background()

	rec := f.track(t, taskstore.KindRebuild, "vm-200", taskID)
	rec.Status = taskstore.StatusRunning
	rec.Step = string(at)
	if err := f.records.Update(ctx, rec); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	now := time.Now()
	for i, name := range steps.Order {
		s := &stepstore.Step{ParentID: rec.ID, Name: string(name), Status: steps.StatusPending, Order: i}
		switch {
		case steps.Index(name) < steps.Index(at):
			_ = s.Start(now, "")
			_ = s.Complete(now, "")
		case name == at:
			_ = s.Start(now, taskID)
		}
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("Create step failed: %v", err)
		}
	}
	return rec
}

func stepStatuses(t *testing.T, repo stepstore.Repository, parentID int64) []steps.Status {
	t.Helper()
	list, err := repo.ListByParent(context.Background(), parentID)
	if err != nil {
		t.Fatalf("ListByParent failed: %v", err)
	}
	out := make([]steps.Status, len(list))
	for i, s := range list {
		out[i] = s.Status
	}
	return out
}

func TestRebuild_ChainsStepsAndCompletesUnsupported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := openSteps(t, f)
	actions := &fakeActions{fail: map[string]error{
		"qmdestroy": fmt.Errorf("qmdestroy: %w", hypervisor.ErrUnsupportedTask),
		"qmconfig":  fmt.Errorf("qmconfig: %w", hypervisor.ErrUnsupportedTask),
	}}
	f.engine.Register(NewRebuild(&scriptedClient{statuses: []*hypervisor.TaskStatus{stoppedOK(0)}}, repo, actions))

	rec := seedRebuild(t, f, repo, steps.StoppingServer, "task-0")
	outcomes, last := drive(t, f.engine, ForRecord(rec))

	want := []Outcome{OutcomeAdvanced, OutcomeAdvanced, OutcomeCompleted}
	if diff := cmp.Diff(want, outcomes); diff != "" {
		t.Fatalf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"qmclone", "qmstart"}, actions.started); diff != "" {
		t.Errorf("started tasks mismatch (-want +got):\n%s", diff)
	}

	wantSteps := []steps.Status{
		steps.StatusCompleted, // stopping
		steps.StatusCompleted, // deleting
		steps.StatusCompleted, // installing
		steps.StatusCompleted, // configuring
		steps.StatusCompleted, // booting
		steps.StatusCompleted, // finalizing
	}
	if diff := cmp.Diff(wantSteps, stepStatuses(t, repo, rec.ID)); diff != "" {
		t.Errorf("step statuses mismatch (-want +got):\n%s", diff)
	}
	list, _ := repo.ListByParent(ctx, rec.ID)
	for _, i := range []int{1, 3} {
		if list[i].ExternalTaskID != "" || list[i].Output != noTaskOutput || list[i].StartedAt == nil {
			t.Errorf("step %s = %+v, want a task-less completion", list[i].Name, list[i])
		}
	}

	got := f.get(t, rec.ID)
	if got.Status != taskstore.StatusCompleted || got.Progress != 100 {
		t.Errorf("record = %q at %v%%, want completed at 100", got.Status, got.Progress)
	}
	if got.Step != string(steps.Finalizing) {
		t.Errorf("Step = %q, want FINALIZING", got.Step)
	}
	if !hasEvent(last, EventLockReleased) {
		t.Error("expected the lock to be released")
	}
	if locked, _ := f.locks.IsLocked(ctx, "vm-200"); locked {
		t.Error("expected resource to be unlocked")
	}
}

func TestRebuild_WithoutActionsWaitsAtNextStep(t *testing.T) {
	f := newFixture(t)
	repo := openSteps(t, f)
	f.engine.Register(NewRebuild(&scriptedClient{statuses: []*hypervisor.TaskStatus{stoppedOK(0)}}, repo, nil))

	rec := seedRebuild(t, f, repo, steps.StoppingServer, "task-0")
	res, err := f.engine.Run(context.Background(), ForRecord(rec))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeAdvanced || res.Next != nil {
		t.Fatalf("got %q next=%v, want advanced without a follow-up", res.Outcome, res.Next)
	}

	got := f.get(t, rec.ID)
	if got.Step != string(steps.DeletingServer) || got.ExternalTaskID != "" {
		t.Errorf("record at %q task %q, want DELETING_SERVER awaiting a task", got.Step, got.ExternalTaskID)
	}
	if got.Status != taskstore.StatusRunning || got.CompletedAt != nil {
		t.Errorf("record = %q, want running", got.Status)
	}
	if got.Progress != 10 {
		t.Errorf("Progress = %v, want 10", got.Progress)
	}
	if locked, _ := f.locks.IsLocked(context.Background(), "vm-200"); !locked {
		t.Error("lock must be held until the rebuild finishes")
	}
}

func TestRebuild_FailureSkipsRemainingSteps(t *testing.T) {
	f := newFixture(t)
	repo := openSteps(t, f)
	f.engine.Register(NewRebuild(&scriptedClient{statuses: []*hypervisor.TaskStatus{stoppedWith("clone failed: storage full")}}, repo, &fakeActions{}))

	rec := seedRebuild(t, f, repo, steps.InstallingOS, "task-2")
	res, err := f.engine.Run(context.Background(), ForRecord(rec))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %q, want failed", res.Outcome)
	}

	wantSteps := []steps.Status{
		steps.StatusCompleted,
		steps.StatusCompleted,
		steps.StatusFailed,
		steps.StatusSkipped,
		steps.StatusSkipped,
		steps.StatusSkipped,
	}
	if diff := cmp.Diff(wantSteps, stepStatuses(t, repo, rec.ID)); diff != "" {
		t.Errorf("step statuses mismatch (-want +got):\n%s", diff)
	}
	if got := f.get(t, rec.ID); got.Error != "clone failed: storage full" {
		t.Errorf("Error = %q", got.Error)
	}
}

func TestRebuild_StartFailureFailsRebuild(t *testing.T) {
	f := newFixture(t)
	repo := openSteps(t, f)
	actions := &fakeActions{fail: map[string]error{"qmdestroy": hypervisor.ErrUnauthorized}}
	f.engine.Register(NewRebuild(&scriptedClient{statuses: []*hypervisor.TaskStatus{stoppedOK(0)}}, repo, actions))

	rec := seedRebuild(t, f, repo, steps.StoppingServer, "task-0")
	res, err := f.engine.Run(context.Background(), ForRecord(rec))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Outcome != OutcomeFailed {
		t.Fatalf("Outcome = %q, want failed", res.Outcome)
	}

	got := f.get(t, rec.ID)
	if got.Error != "could not start Deleting server: unauthorized" {
		t.Errorf("Error = %q", got.Error)
	}
	statuses := stepStatuses(t, repo, rec.ID)
	if statuses[1] != steps.StatusFailed || statuses[2] != steps.StatusSkipped {
		t.Errorf("step statuses = %v", statuses)
	}
}

func TestRebuild_InterpolatesInstallProgress(t *testing.T) {
	f := newFixture(t)
	repo := openSteps(t, f)
	client := &scriptedClient{statuses: []*hypervisor.TaskStatus{running("transferred 1.00 GiB of 2.00 GiB (50.00%)")}}
	f.engine.Register(NewRebuild(client, repo, nil))

	rec := seedRebuild(t, f, repo, steps.InstallingOS, "task-2")
	res, err := f.engine.Run(context.Background(), ForRecord(rec))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var pct *float64
	for _, ev := range res.Events {
		if ev.Type == EventProgress {
			pct = ev.Percent
		}
	}
	if pct == nil || *pct != 47.5 {
		t.Fatalf("progress = %v, want 47.5", pct)
	}

	list, _ := repo.ListByParent(context.Background(), rec.ID)
	if list[2].Output != "1.00 GB of 2.00 GB" {
		t.Errorf("step output = %q", list[2].Output)
	}
}

func TestRebuild_NearlyFinishedInstallStaysBelowNextStep(t *testing.T) {
	f := newFixture(t)
	repo := openSteps(t, f)
	client := &scriptedClient{statuses: []*hypervisor.TaskStatus{running("transferred 2046.00 MiB of 2048.00 MiB")}}
	f.engine.Register(NewRebuild(client, repo, nil))

	rec := seedRebuild(t, f, repo, steps.InstallingOS, "task-2")
	if _, err := f.engine.Run(context.Background(), ForRecord(rec)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	list, _ := repo.ListByParent(context.Background(), rec.ID)
	if list[2].Percent != progress.MaxPercent {
		t.Errorf("step percent = %v, want %v", list[2].Percent, progress.MaxPercent)
	}
	if got := steps.Interpolate(steps.InstallingOS, list[2].Percent); got >= steps.ProgressPercentage(steps.ConfiguringResources) {
		t.Errorf("interpolated %v reaches the next step", got)
	}
}

func TestRebuild_ExhaustionFailsCurrentStep(t *testing.T) {
	f := newFixture(t)
	repo := openSteps(t, f)
	r := NewRebuild(&scriptedClient{statuses: []*hypervisor.TaskStatus{running()}}, repo, nil)
	r.TaskStrategy = r.TaskStrategy.WithPolicy(Policy{MaxAttempts: 2, Delay: time.Second})
	f.engine.Register(r)

	rec := seedRebuild(t, f, repo, steps.BootingServer, "task-4")
	outcomes, _ := drive(t, f.engine, ForRecord(rec))
	if diff := cmp.Diff([]Outcome{OutcomeRescheduled, OutcomeExhausted}, outcomes); diff != "" {
		t.Fatalf("outcomes mismatch (-want +got):\n%s", diff)
	}

	statuses := stepStatuses(t, repo, rec.ID)
	if statuses[4] != steps.StatusFailed || statuses[5] != steps.StatusSkipped {
		t.Errorf("step statuses = %v", statuses)
	}
	got := f.get(t, rec.ID)
	if got.Status != taskstore.StatusFailed || got.Error == "" {
		t.Errorf("record = %q %q, want failed with a synthetic error", got.Status, got.Error)
	}
}

func TestRebuild_DuplicateSettleStartsNothing(t *testing.T) {
	f := newFixture(t)
	repo := openSteps(t, f)
	actions := &fakeActions{}
	f.engine.Register(NewRebuild(&scriptedClient{statuses: []*hypervisor.TaskStatus{stoppedOK(0)}}, repo, actions))

	rec := seedRebuild(t, f, repo, steps.StoppingServer, "task-0")
	job := ForRecord(rec)
	if _, err := f.engine.Run(context.Background(), job); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	res, err := f.engine.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("duplicate Run failed: %v", err)
	}
	if res.Outcome != OutcomeDuplicate {
		t.Errorf("Outcome = %q, want duplicate", res.Outcome)
	}
	if len(actions.started) != 1 {
		t.Errorf("started %v, want exactly one task", actions.started)
	}
}
