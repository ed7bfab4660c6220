// Package cmdtest sets up an isolated vpsd environment for command tests:
// a temporary config file and database, and a fake hypervisor provider.
package cmdtest

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"nathanbeddoewebdev/vpsd/cmd/commands/runner"
	"nathanbeddoewebdev/vpsd/internal/app"
	"nathanbeddoewebdev/vpsd/internal/config"
	"nathanbeddoewebdev/vpsd/internal/hypervisor"
	"nathanbeddoewebdev/vpsd/internal/services/auth"

	"github.com/spf13/cobra"
)

// ProviderName is the name the fake hypervisor is registered under.
const ProviderName = "fake"

// Hypervisor finishes every task on the first poll.
type Hypervisor struct {
	mu      sync.Mutex
	started []string
	polled  []string
	next    int

	// Fail makes every task finish with this exit status instead of OK.
	Fail string
}

func (h *Hypervisor) GetTaskStatus(_ context.Context, id string) (*hypervisor.TaskStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.polled = append(h.polled, id)
	exit := hypervisor.ExitOK
	if h.Fail != "" {
		exit = h.Fail
	}
	return &hypervisor.TaskStatus{
		Status:     hypervisor.TaskStopped,
		ExitStatus: hypervisor.Str(exit),
		Size:       hypervisor.Int64(1 << 20),
	}, nil
}

func (h *Hypervisor) StartTask(_ context.Context, resourceID, taskType string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := fmt.Sprintf("fake-%d", h.next)
	h.started = append(h.started, taskType+"@"+resourceID)
	return id, nil
}

func (h *Hypervisor) GetUsage(_ context.Context, resourceID string) (*hypervisor.Usage, error) {
	return &hypervisor.Usage{
		ResourceID: resourceID,
		SampledAt:  time.Now().UTC(),
		CPUPercent: 42,
		NetworkIn:  2048,
	}, nil
}

// Started returns the "type@resource" of every task started so far.
func (h *Hypervisor) Started() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.started...)
}

// Polled returns the task ids queried so far.
func (h *Hypervisor) Polled() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.polled...)
}

// Env is an isolated environment.
type Env struct {
	Hypervisor *Hypervisor
	Store      *auth.MockStore
	DBPath     string
}

// Setup points config at a temporary file and database, registers the fake
// provider and shortens polling. Everything is undone when t ends.
func Setup(t *testing.T) *Env {
	t.Helper()
	dir := t.TempDir()

	config.SetPath(filepath.Join(dir, "config.json"))
	t.Cleanup(config.ResetPath)

	env := &Env{
		Hypervisor: &Hypervisor{},
		Store:      auth.NewMockStore(),
		DBPath:     filepath.Join(dir, "vpsd.db"),
	}
	t.Setenv("VPSD_DATABASE_PATH", env.DBPath)
	t.Setenv("VPSD_HYPERVISOR_PROVIDER", ProviderName)
	t.Setenv("VPSD_LOG_LEVEL", "error")

	hypervisor.Reset()
	t.Cleanup(hypervisor.Reset)
	hypervisor.Register(ProviderName, func(auth.Store) (hypervisor.TaskClient, error) {
		return env.Hypervisor, nil
	})

	prevStore, prevPoll := runner.Store, runner.PollInterval
	runner.Store = func() auth.Store { return env.Store }
	runner.PollInterval = 10 * time.Millisecond
	t.Cleanup(func() {
		runner.Store = prevStore
		runner.PollInterval = prevPoll
	})
	return env
}

// Open opens the environment's stores for seeding and assertions.
func (e *Env) Open(t *testing.T) *app.App {
	t.Helper()
	cfg, err := config.Resolve()
	if err != nil {
		t.Fatalf("config.Resolve failed: %v", err)
	}
	a, err := app.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("app.Open failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

// Exec runs cmd with args and returns what it wrote to stdout and stderr.
func Exec(t *testing.T, cmd *cobra.Command, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var outBuf, errBuf bytes.Buffer
	cmd.SetOut(&outBuf)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}
