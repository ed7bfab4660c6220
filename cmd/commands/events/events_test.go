package events

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"nathanbeddoewebdev/vpsd/cmd/commands/cmdtest"
	"nathanbeddoewebdev/vpsd/internal/eventlog"
	"nathanbeddoewebdev/vpsd/internal/hypervisor"
)

func execEvents(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	return cmdtest.Exec(t, NewCommand(), args...)
}

func seedEvents(t *testing.T, env *cmdtest.Env) {
	t.Helper()
	a := env.Open(t)
	pct := 25.0
	for _, e := range []*eventlog.Entry{
		{JobID: "j1", Kind: "backup_create", RecordID: 1, ResourceID: "101", TaskID: "t-1", Attempt: 1, Type: "progress", Percent: &pct},
		{JobID: "j2", Kind: "iso_download", RecordID: 2, ResourceID: "102", Attempt: 3, Type: "retry", Message: "hypervisor unreachable"},
	} {
		if err := a.Events.Save(context.Background(), e); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
}

func TestList(t *testing.T) {
	env := cmdtest.Setup(t)

	stdout, _, err := execEvents(t, "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "No events found.") {
		t.Errorf("got:\n%s", stdout)
	}

	seedEvents(t, env)

	stdout, _, err = execEvents(t, "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"#1 101 (t-1)", "25%", "hypervisor unreachable", "retry"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("missing %q:\n%s", want, stdout)
		}
	}

	stdout, _, err = execEvents(t, "list", "--record", "2", "-o", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []eventlog.Entry
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 1 || got[0].JobID != "j2" {
		t.Errorf("got %+v", got)
	}
}

func TestList_Validation(t *testing.T) {
	cmdtest.Setup(t)

	if _, _, err := execEvents(t, "list", "--limit", "0"); err == nil {
		t.Error("expected an error for --limit 0")
	}
	if _, _, err := execEvents(t, "list", "-o", "csv"); err == nil {
		t.Error("expected an error for -o csv")
	}
}

func TestPrune(t *testing.T) {
	env := cmdtest.Setup(t)
	seedEvents(t, env)
	a := env.Open(t)
	if err := a.Usage.Save(context.Background(), &hypervisor.Usage{ResourceID: "101"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	stdout, _, err := execEvents(t, "prune", "--older-than", "1h", "--keep-usage")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "Removed 0 event(s).") || strings.Contains(stdout, "usage") {
		t.Errorf("got:\n%s", stdout)
	}

	stdout, _, err = execEvents(t, "prune", "--older-than", "0s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout, "Removed 2 event(s).") || !strings.Contains(stdout, "Removed 1 usage sample(s).") {
		t.Errorf("got:\n%s", stdout)
	}

	if _, _, err := execEvents(t, "prune"); err == nil {
		t.Error("expected --older-than to be required")
	}
}
