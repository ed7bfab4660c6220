package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func tempRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vpsd.db")
	r, err := OpenAt(path)
	if err != nil {
		t.Fatalf("OpenAt failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestSave_AssignsIDAndTimestamp(t *testing.T) {
	r := tempRepo(t)

	entry := &Entry{JobID: "j1", Kind: "backup_create", Type: "rescheduled", Attempt: 1}
	if err := r.Save(context.Background(), entry); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if entry.ID == 0 {
		t.Error("expected ID to be assigned")
	}
	if entry.Timestamp.IsZero() {
		t.Error("expected Timestamp to be set")
	}
}

func TestList(t *testing.T) {
	r := tempRepo(t)
	ctx := context.Background()

	for i := range 3 {
		entry := &Entry{
			Type:      "progress",
			Attempt:   i + 1,
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := r.Save(ctx, entry); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	entries, err := r.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Attempt != 3 {
		t.Errorf("expected newest entry first, got attempt %d", entries[0].Attempt)
	}
}

func TestListByRecord_KeepsPercent(t *testing.T) {
	r := tempRepo(t)
	ctx := context.Background()

	pct := 42.5
	r.Save(ctx, &Entry{RecordID: 1, Type: "progress", Percent: &pct})
	r.Save(ctx, &Entry{RecordID: 2, Type: "completed"})

	entries, err := r.ListByRecord(ctx, 1, 10)
	if err != nil {
		t.Fatalf("ListByRecord failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Percent == nil || *entries[0].Percent != 42.5 {
		t.Errorf("Percent = %v, want 42.5", entries[0].Percent)
	}
}

func TestPrune(t *testing.T) {
	r := tempRepo(t)
	ctx := context.Background()

	r.Save(ctx, &Entry{Type: "old", Timestamp: time.Now().UTC().Add(-48 * time.Hour)})
	r.Save(ctx, &Entry{Type: "new"})

	removed, err := r.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
}

func TestSave_SanitizesMessage(t *testing.T) {
	r := tempRepo(t)
	ctx := context.Background()

	entry := &Entry{Type: "failed", Message: "GET https://api/actions?token=abc123 failed"}
	r.Save(ctx, entry)

	entries, _ := r.List(ctx, 1)
	if got := entries[0].Message; got != "GET https://api/actions?token=<redacted> failed" {
		t.Errorf("stored message = %q", got)
	}
}
