package tasks

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"nathanbeddoewebdev/vpsd/cmd/commands/cmdtest"
	"nathanbeddoewebdev/vpsd/internal/eventlog"
	"nathanbeddoewebdev/vpsd/internal/taskstore"

	"github.com/google/go-cmp/cmp"
)

func execTasks(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	return cmdtest.Exec(t, NewCommand(), args...)
}

func seed(t *testing.T, env *cmdtest.Env, recs ...*taskstore.Record) {
	t.Helper()
	a := env.Open(t)
	for _, r := range recs {
		if err := a.Records.Create(context.Background(), r); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
}

func TestTrack_FollowRunsInProcess(t *testing.T) {
	env := cmdtest.Setup(t)

	stdout, _, err := execTasks(t, "track", "--kind", "backup_create", "--resource", "101", "--task", "t-1", "--follow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "Tracking task #1 (backup_create on 101, task t-1)") {
		t.Errorf("missing tracking line:\n%s", stdout)
	}
	if !strings.Contains(stdout, "completed, size 1.00 MB") {
		t.Errorf("missing completion summary:\n%s", stdout)
	}
	if diff := cmp.Diff([]string{"t-1"}, env.Hypervisor.Polled()[:1]); diff != "" {
		t.Errorf("polled (-want +got):\n%s", diff)
	}

	rec, err := env.Open(t).Records.Get(context.Background(), 1)
	if err != nil || rec == nil {
		t.Fatalf("Get = %v, %v", rec, err)
	}
	if rec.Status != taskstore.StatusCompleted {
		t.Errorf("status = %q, want completed", rec.Status)
	}
}

func TestTrack_FollowReportsFailure(t *testing.T) {
	env := cmdtest.Setup(t)
	env.Hypervisor.Fail = "disk full"

	stdout, _, err := execTasks(t, "track", "--kind", "iso_download", "--resource", "101", "--task", "t-9", "--follow")
	if err == nil || !strings.Contains(err.Error(), "task #1 failed") {
		t.Fatalf("expected a failure error, got %v", err)
	}
	if !strings.Contains(stdout, "failed") {
		t.Errorf("missing failure summary:\n%s", stdout)
	}
}

func TestTrack_StartsTaskWithoutID(t *testing.T) {
	env := cmdtest.Setup(t)

	stdout, stderr, err := execTasks(t, "track", "--kind", "backup_create", "--resource", "101", "--type", "backup")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "task fake-1") {
		t.Errorf("expected the started task id:\n%s", stdout)
	}
	if !strings.Contains(stderr, "vpsd tasks watch 1") {
		t.Errorf("expected a watch hint for the memory queue, got:\n%s", stderr)
	}
	if len(env.Hypervisor.Started()) != 1 {
		t.Errorf("started = %v, want one task", env.Hypervisor.Started())
	}
}

func TestTrack_RejectsRebuildAndUnknownKinds(t *testing.T) {
	cmdtest.Setup(t)

	if _, _, err := execTasks(t, "track", "--kind", "rebuild", "--resource", "101", "--task", "x"); err == nil || !strings.Contains(err.Error(), "vpsd rebuild begin") {
		t.Errorf("rebuild: got %v", err)
	}
	if _, _, err := execTasks(t, "track", "--kind", "snapshot", "--resource", "101", "--task", "x"); err == nil {
		t.Error("expected an error for an unknown kind")
	}
}

func TestTrack_BusyResource(t *testing.T) {
	env := cmdtest.Setup(t)
	a := env.Open(t)
	if ok, err := a.Locks.Acquire(context.Background(), "101"); err != nil || !ok {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}

	_, _, err := execTasks(t, "track", "--kind", "backup_restore", "--resource", "101", "--task", "t-2")
	if err == nil || !strings.Contains(err.Error(), "resource 101 is busy") {
		t.Fatalf("expected a busy error, got %v", err)
	}
	if recs, _ := a.Records.ListActive(context.Background()); len(recs) != 0 {
		t.Errorf("expected no record, got %d", len(recs))
	}
}

func TestList(t *testing.T) {
	env := cmdtest.Setup(t)
	seed(t, env,
		&taskstore.Record{Kind: taskstore.KindBackupCreate, ResourceID: "101", ExternalTaskID: "t-1", Status: taskstore.StatusRunning, Progress: 40},
		&taskstore.Record{Kind: taskstore.KindISODownload, ResourceID: "102", ExternalTaskID: "t-2", Status: taskstore.StatusCompleted, Progress: 100},
	)

	stdout, _, err := execTasks(t, "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "backup_create") || strings.Contains(stdout, "iso_download") {
		t.Errorf("expected only the active task:\n%s", stdout)
	}
	if !strings.Contains(stdout, "40%") {
		t.Errorf("expected the progress column:\n%s", stdout)
	}

	stdout, _, err = execTasks(t, "list", "--all", "-o", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []taskstore.Record
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if len(got) != 2 {
		t.Errorf("got %d records, want 2", len(got))
	}

	stdout, _, err = execTasks(t, "list", "--resource", "102")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "No active tasks.") {
		t.Errorf("expected no active tasks for 102:\n%s", stdout)
	}
}

func TestList_BadOutput(t *testing.T) {
	cmdtest.Setup(t)
	if _, _, err := execTasks(t, "list", "-o", "yaml"); err == nil || !strings.Contains(err.Error(), "unsupported output format") {
		t.Errorf("got %v", err)
	}
}

func TestShow(t *testing.T) {
	env := cmdtest.Setup(t)
	seed(t, env, &taskstore.Record{Kind: taskstore.KindBackupDelete, ResourceID: "101", ExternalTaskID: "t-3", Label: "nightly", Status: taskstore.StatusDeleting})
	pct := 50.0
	a := env.Open(t)
	if err := a.Events.Save(context.Background(), &eventlog.Entry{JobID: "j", Kind: "backup_delete", RecordID: 1, Type: "progress", Attempt: 2, Percent: &pct}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	stdout, _, err := execTasks(t, "show", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"nightly", "deleting", "Recent events:", "progress"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("missing %q:\n%s", want, stdout)
		}
	}

	if _, _, err := execTasks(t, "show", "99"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found, got %v", err)
	}
	if _, _, err := execTasks(t, "show", "abc"); err == nil || !strings.Contains(err.Error(), "invalid task id") {
		t.Errorf("expected invalid id, got %v", err)
	}
}

func TestWait(t *testing.T) {
	env := cmdtest.Setup(t)
	seed(t, env,
		&taskstore.Record{Kind: taskstore.KindBackupCreate, ResourceID: "101", Status: taskstore.StatusCompleted, Progress: 100},
		&taskstore.Record{Kind: taskstore.KindBackupCreate, ResourceID: "101", Status: taskstore.StatusFailed, Error: "boom"},
		&taskstore.Record{Kind: taskstore.KindBackupCreate, ResourceID: "101", ExternalTaskID: "t", Status: taskstore.StatusRunning},
	)

	stdout, _, err := execTasks(t, "wait", "1")
	if err != nil || !strings.Contains(stdout, "completed") {
		t.Errorf("completed: %v\n%s", err, stdout)
	}

	if _, _, err := execTasks(t, "wait", "2"); err == nil || !strings.Contains(err.Error(), "task #2 failed") {
		t.Errorf("failed: got %v", err)
	}

	start := time.Now()
	_, _, err = execTasks(t, "wait", "3", "--timeout", "50ms")
	if err == nil || !strings.Contains(err.Error(), "did not settle within 50ms") {
		t.Errorf("running: got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("wait ignored its timeout")
	}
}

func TestWatch_NonInteractive(t *testing.T) {
	env := cmdtest.Setup(t)
	seed(t, env, &taskstore.Record{Kind: taskstore.KindISODownload, ResourceID: "101", Status: taskstore.StatusCompleted, Progress: 100})

	stdout, stderr, err := execTasks(t, "watch", "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stderr, "Status: completed (100%)") {
		t.Errorf("expected a status line on stderr:\n%s", stderr)
	}
	if !strings.Contains(stdout, "completed") {
		t.Errorf("expected a summary:\n%s", stdout)
	}

	if _, _, err := execTasks(t, "watch", "7"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestPrune(t *testing.T) {
	cmdtest.Setup(t)

	stdout, _, err := execTasks(t, "prune", "--older-than", "30d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "Removed 0 task(s).") {
		t.Errorf("got:\n%s", stdout)
	}

	if _, _, err := execTasks(t, "prune"); err == nil || !strings.Contains(err.Error(), "--older-than is required") {
		t.Errorf("expected a required-flag error, got %v", err)
	}
}

func TestParseAge(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "30d", want: 30 * 24 * time.Hour},
		{in: "72h", want: 72 * time.Hour},
		{in: "15m", want: 15 * time.Minute},
		{in: "xd", wantErr: true},
		{in: "-1h", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseAge(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAge(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAge(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
