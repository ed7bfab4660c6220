package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"nathanbeddoewebdev/vpsd/internal/lockstore"
	"nathanbeddoewebdev/vpsd/internal/monitor"
	"nathanbeddoewebdev/vpsd/internal/services/lock"
	"nathanbeddoewebdev/vpsd/internal/taskstore"
)

type captureScheduler struct {
	jobs []monitor.Job
	err  error
}

func (c *captureScheduler) Enqueue(_ context.Context, job monitor.Job, _ time.Duration) error {
	if c.err != nil {
		return c.err
	}
	c.jobs = append(c.jobs, job)
	return nil
}

type stubActions struct {
	started []string
	err     error
}

func (a *stubActions) StartTask(_ context.Context, resourceID, taskType string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.started = append(a.started, taskType)
	return taskType + ":" + resourceID, nil
}

type harness struct {
	svc     *Service
	records *taskstore.SQLiteRepository
	locks   *lock.Service
	sched   *captureScheduler
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vpsd.db")

	records, err := taskstore.OpenAt(path)
	if err != nil {
		t.Fatalf("taskstore.OpenAt failed: %v", err)
	}
	lockRepo, err := lockstore.OpenSQLiteAt(path)
	if err != nil {
		t.Fatalf("lockstore.OpenSQLiteAt failed: %v", err)
	}
	locks := lock.NewService(lockRepo)
	t.Cleanup(func() {
		records.Close()
		locks.Close()
	})

	sched := &captureScheduler{}
	return &harness{
		svc:     NewService(records, locks, sched, opts...),
		records: records,
		locks:   locks,
		sched:   sched,
	}
}

func TestTrack_ExistingTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.svc.Track(ctx, Request{
		Kind:       taskstore.KindISODownload,
		ResourceID: "node-1",
		TaskID:     "UPID:download",
		Label:      "debian-12.iso",
	})
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if rec.Status != taskstore.StatusPending || rec.LockToken != "" {
		t.Errorf("record = %+v", rec)
	}
	if locked, _ := h.locks.IsLocked(ctx, "node-1"); locked {
		t.Error("download must not lock the resource")
	}
	if len(h.sched.jobs) != 1 || h.sched.jobs[0].RecordID != rec.ID || h.sched.jobs[0].ExternalTaskID != "UPID:download" {
		t.Errorf("jobs = %+v", h.sched.jobs)
	}
}

func TestTrack_RestoreTakesLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.svc.Track(ctx, Request{Kind: taskstore.KindBackupRestore, ResourceID: "vm-1", TaskID: "UPID:restore"})
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if rec.LockToken == "" {
		t.Error("expected a lock token")
	}

	_, err = h.svc.Track(ctx, Request{Kind: taskstore.KindBackupRestore, ResourceID: "vm-1", TaskID: "UPID:again"})
	if !errors.Is(err, lock.ErrInProgress) {
		t.Fatalf("expected ErrInProgress, got %v", err)
	}
}

func TestTrack_DeleteStartsInDeleting(t *testing.T) {
	h := newHarness(t)

	rec, err := h.svc.Track(context.Background(), Request{Kind: taskstore.KindBackupDelete, ResourceID: "vm-1", TaskID: "UPID:rm"})
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if rec.Status != taskstore.StatusDeleting {
		t.Errorf("Status = %q, want deleting", rec.Status)
	}
}

func TestTrack_StartsDefaultTaskType(t *testing.T) {
	actions := &stubActions{}
	h := newHarness(t, WithActions(actions))

	rec, err := h.svc.Track(context.Background(), Request{Kind: taskstore.KindBackupCreate, ResourceID: "vm-2"})
	if err != nil {
		t.Fatalf("Track failed: %v", err)
	}
	if rec.ExternalTaskID != "vzdump:vm-2" {
		t.Errorf("ExternalTaskID = %q", rec.ExternalTaskID)
	}
}

func TestTrack_Errors(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t)
	if _, err := h.svc.Track(ctx, Request{Kind: "snapshot", ResourceID: "vm"}); err == nil {
		t.Error("expected an error for an unknown kind")
	}
	if _, err := h.svc.Track(ctx, Request{Kind: taskstore.KindRebuild, ResourceID: "vm", TaskID: "x"}); !errors.Is(err, ErrRebuildKind) {
		t.Errorf("expected ErrRebuildKind, got %v", err)
	}
	if _, err := h.svc.Track(ctx, Request{Kind: taskstore.KindISODownload, ResourceID: "vm"}); !errors.Is(err, ErrTaskRequired) {
		t.Errorf("expected ErrTaskRequired, got %v", err)
	}

	failing := newHarness(t, WithActions(&stubActions{err: errors.New("unauthorized")}))
	_, err := failing.svc.Track(ctx, Request{Kind: taskstore.KindBackupRestore, ResourceID: "vm-3", TaskType: "qmrestore"})
	if err == nil {
		t.Fatal("expected the start error")
	}
	if locked, _ := failing.locks.IsLocked(ctx, "vm-3"); locked {
		t.Error("lock must be released when the task cannot start")
	}
}

func TestTrack_EnqueueFailureFailsRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sched.err = errors.New("queue down")

	if _, err := h.svc.Track(ctx, Request{Kind: taskstore.KindBackupRestore, ResourceID: "vm-4", TaskID: "UPID:1"}); err == nil {
		t.Fatal("expected an error")
	}
	recs, err := h.records.ListByResource(ctx, "vm-4")
	if err != nil {
		t.Fatalf("ListByResource failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Status != taskstore.StatusFailed {
		t.Errorf("records = %+v", recs)
	}
	if locked, _ := h.locks.IsLocked(ctx, "vm-4"); locked {
		t.Error("lock must be released")
	}
}
