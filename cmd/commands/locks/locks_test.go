package locks

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"nathanbeddoewebdev/vpsd/cmd/commands/cmdtest"
	"nathanbeddoewebdev/vpsd/internal/lockstore"
)

func execLocks(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	return cmdtest.Exec(t, NewCommand(), args...)
}

func TestList(t *testing.T) {
	env := cmdtest.Setup(t)

	stdout, _, err := execLocks(t, "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "No locks held.") {
		t.Errorf("got:\n%s", stdout)
	}

	a := env.Open(t)
	if ok, err := a.Locks.Acquire(context.Background(), "101"); err != nil || !ok {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}

	stdout, _, err = execLocks(t, "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "101") || !strings.Contains(stdout, "held") {
		t.Errorf("expected the held lock:\n%s", stdout)
	}

	stdout, _, err = execLocks(t, "list", "-o", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []lockstore.Lock
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 1 || got[0].ResourceID != "101" || got[0].Token == "" {
		t.Errorf("got %+v", got)
	}
}

func TestStatus(t *testing.T) {
	env := cmdtest.Setup(t)
	a := env.Open(t)
	if ok, err := a.Locks.Acquire(context.Background(), "101"); err != nil || !ok {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}

	stdout, _, err := execLocks(t, "status", "101")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "Expires in:") {
		t.Errorf("got:\n%s", stdout)
	}

	stdout, _, err = execLocks(t, "status", "102", "-o", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, `"locked": false`) {
		t.Errorf("got:\n%s", stdout)
	}
}

func TestRelease(t *testing.T) {
	env := cmdtest.Setup(t)
	a := env.Open(t)
	ctx := context.Background()
	if ok, err := a.Locks.Acquire(ctx, "101"); err != nil || !ok {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}

	// stdin is not a terminal under go test.
	if _, _, err := execLocks(t, "release", "101"); err == nil || !strings.Contains(err.Error(), "without --yes") {
		t.Fatalf("expected a refusal, got %v", err)
	}
	if locked, _ := a.Locks.IsLocked(ctx, "101"); !locked {
		t.Fatal("lock released without confirmation")
	}

	stdout, _, err := execLocks(t, "release", "101", "--yes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "Released the lock on 101.") {
		t.Errorf("got:\n%s", stdout)
	}
	if locked, _ := a.Locks.IsLocked(ctx, "101"); locked {
		t.Error("lock still held")
	}

	stdout, _, err = execLocks(t, "release", "101", "--yes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "not locked") {
		t.Errorf("got:\n%s", stdout)
	}
}
