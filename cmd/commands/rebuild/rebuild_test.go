package rebuild

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"nathanbeddoewebdev/vpsd/cmd/commands/cmdtest"
	"nathanbeddoewebdev/vpsd/internal/steps"
	"nathanbeddoewebdev/vpsd/internal/taskstore"
)

func execRebuild(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	return cmdtest.Exec(t, NewCommand(), args...)
}

func TestBegin_LocksAndRecords(t *testing.T) {
	env := cmdtest.Setup(t)

	stdout, stderr, err := execRebuild(t, "begin", "101", "--task", "del-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "Rebuild #1 of 101 started") || !strings.Contains(stdout, "task del-1") {
		t.Errorf("got:\n%s", stdout)
	}
	if !strings.Contains(stderr, "vpsd tasks watch 1") {
		t.Errorf("expected a watch hint, got:\n%s", stderr)
	}

	a := env.Open(t)
	ctx := context.Background()
	if locked, _ := a.Locks.IsLocked(ctx, "101"); !locked {
		t.Error("expected the resource to be locked")
	}
	list, err := a.Steps.ListByParent(ctx, 1)
	if err != nil {
		t.Fatalf("ListByParent failed: %v", err)
	}
	if len(list) != len(steps.Order) {
		t.Errorf("got %d steps, want %d", len(list), len(steps.Order))
	}

	// A second rebuild of the same resource is refused.
	if _, _, err := execRebuild(t, "begin", "101", "--task", "del-2"); err == nil || !strings.Contains(err.Error(), "busy") {
		t.Errorf("expected a busy error, got %v", err)
	}
}

func TestBegin_StartsFirstStep(t *testing.T) {
	env := cmdtest.Setup(t)

	if _, _, err := execRebuild(t, "begin", "202"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	started := env.Hypervisor.Started()
	if len(started) != 1 || !strings.HasSuffix(started[0], "@202") {
		t.Errorf("started = %v, want one task on 202", started)
	}
}

func TestStatus(t *testing.T) {
	cmdtest.Setup(t)
	if _, _, err := execRebuild(t, "begin", "101", "--task", "del-1"); err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	stdout, _, err := execRebuild(t, "status", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Overall:", "Current:", "STEP", string(steps.First())} {
		if !strings.Contains(stdout, want) {
			t.Errorf("missing %q:\n%s", want, stdout)
		}
	}

	stdout, _, err = execRebuild(t, "status", "1", "-o", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got struct {
		Kind    taskstore.Kind `json:"kind"`
		Percent float64        `json:"percent"`
		Steps   []any          `json:"steps"`
	}
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if got.Kind != taskstore.KindRebuild || len(got.Steps) != len(steps.Order) {
		t.Errorf("got %+v", got)
	}
}

func TestStatus_NotARebuild(t *testing.T) {
	env := cmdtest.Setup(t)
	a := env.Open(t)
	rec := &taskstore.Record{Kind: taskstore.KindBackupCreate, ResourceID: "101", Status: taskstore.StatusRunning}
	if err := a.Records.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, _, err := execRebuild(t, "status", "1"); err == nil || !strings.Contains(err.Error(), "rebuild not found") {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestAdvance_StepInFlight(t *testing.T) {
	cmdtest.Setup(t)
	if _, _, err := execRebuild(t, "begin", "101", "--task", "del-1"); err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	_, _, err := execRebuild(t, "advance", "1", "--task", "x")
	if err == nil || !strings.Contains(err.Error(), "still running") {
		t.Errorf("expected a step-in-flight error, got %v", err)
	}
}
