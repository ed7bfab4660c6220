package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"nathanbeddoewebdev/vpsd/internal/monitor"
)

func TestMetrics_ObserveCountsOutcomesAndEvents(t *testing.T) {
	m := NewMetrics()
	ctx := context.Background()
	job := monitor.NewJob("backup_create", 1, "vm-1", "UPID:1")

	m.Observe(ctx, monitor.Result{
		Job:     job,
		Outcome: monitor.OutcomeRescheduled,
		Events:  []monitor.Event{{Type: monitor.EventProgress}, {Type: monitor.EventRescheduled}},
	}, nil)
	m.Observe(ctx, monitor.Result{Job: job, Outcome: monitor.OutcomeCompleted}, nil)
	m.Observe(ctx, monitor.Result{Job: job}, &monitor.JobError{Op: "save", Job: job, Err: errors.New("locked")})

	if got := testutil.ToFloat64(m.Attempts.WithLabelValues("backup_create", "rescheduled")); got != 1 {
		t.Errorf("rescheduled attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Attempts.WithLabelValues("backup_create", "completed")); got != 1 {
		t.Errorf("completed attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Events.WithLabelValues("backup_create", "progress")); got != 1 {
		t.Errorf("progress events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.JobErrors.WithLabelValues("backup_create", "save")); got != 1 {
		t.Errorf("save errors = %v, want 1", got)
	}
}

func TestMetrics_SetActiveResets(t *testing.T) {
	m := NewMetrics()
	m.SetActive(map[string]int{"rebuild": 2, "iso_download": 1})
	m.SetActive(map[string]int{"rebuild": 1})

	if got := testutil.ToFloat64(m.ActiveRecords.WithLabelValues("rebuild")); got != 1 {
		t.Errorf("rebuild = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.ActiveRecords); n != 1 {
		t.Errorf("collected %d series, want 1", n)
	}
}

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRouter(t *testing.T) {
	m := NewMetrics()
	m.Observe(context.Background(), monitor.Result{Job: monitor.NewJob("rebuild", 1, "vm", "t"), Outcome: monitor.OutcomeAdvanced}, nil)

	healthy := true
	srv := httptest.NewServer(Router(m, map[string]Check{
		"database": func(context.Context) error {
			if !healthy {
				return errors.New("database is locked")
			}
			return nil
		},
	}))
	defer srv.Close()

	if code, _ := get(t, srv, "/healthz"); code != http.StatusOK {
		t.Errorf("/healthz = %d", code)
	}
	if code, _ := get(t, srv, "/readyz"); code != http.StatusOK {
		t.Errorf("/readyz = %d", code)
	}

	healthy = false
	code, body := get(t, srv, "/readyz")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "database is locked") {
		t.Errorf("/readyz = %d %s", code, body)
	}

	_, body = get(t, srv, "/metrics")
	if !strings.Contains(body, `vpsd_monitor_attempts_total{kind="rebuild",outcome="advanced"} 1`) {
		t.Errorf("metrics output missing attempt counter:\n%s", body)
	}
}

func TestExporterOptions(t *testing.T) {
	tests := []struct {
		endpoint string
		want     int
		wantErr  bool
	}{
		{endpoint: "localhost:4318", want: 2},
		{endpoint: "collector:4318", want: 2},
		{endpoint: "http://collector:4318", want: 2},
		{endpoint: "https://collector.example.com/otlp/v1/traces", want: 2},
		{endpoint: "http://", wantErr: true},
	}
	for _, tt := range tests {
		opts, err := exporterOptions(tt.endpoint)
		if (err != nil) != tt.wantErr {
			t.Errorf("exporterOptions(%q) error = %v, wantErr %v", tt.endpoint, err, tt.wantErr)
			continue
		}
		if len(opts) != tt.want {
			t.Errorf("exporterOptions(%q) = %d options, want %d", tt.endpoint, len(opts), tt.want)
		}
	}
}

func TestInitTracing_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "vpsd-test", "")
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}
