package hypervisor

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"nathanbeddoewebdev/vpsd/internal/services/auth"
)

type stubClient struct{}

func (stubClient) GetTaskStatus(context.Context, string) (*TaskStatus, error) {
	return &TaskStatus{Status: TaskRunning}, nil
}

func TestRegistry(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	Register("Zeta", func(auth.Store) (TaskClient, error) { return stubClient{}, nil })
	Register("alpha", func(auth.Store) (TaskClient, error) { return stubClient{}, nil })

	if diff := cmp.Diff([]string{"alpha", "zeta"}, List()); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}

	c, err := Get(" ZETA ", auth.NewMockStore())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, ok := c.(stubClient); !ok {
		t.Errorf("Get returned %T, want stubClient", c)
	}

	if _, err := Get("missing", auth.NewMockStore()); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	Register("alpha", func(auth.Store) (TaskClient, error) { return stubClient{}, nil })

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	Register("ALPHA", func(auth.Store) (TaskClient, error) { return stubClient{}, nil })
}

func TestTaskStatus_Succeeded(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"running", TaskStatus{Status: TaskRunning}, false},
		{"stopped ok", TaskStatus{Status: TaskStopped, ExitStatus: Str(ExitOK)}, true},
		{"stopped error", TaskStatus{Status: TaskStopped, ExitStatus: Str("command failed")}, false},
		{"stopped no exit", TaskStatus{Status: TaskStopped}, false},
	}
	for _, tt := range tests {
		if got := tt.status.Succeeded(); got != tt.want {
			t.Errorf("%s: Succeeded() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
