// Package telemetry exposes worker metrics, health endpoints and tracing.
package telemetry

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"nathanbeddoewebdev/vpsd/internal/monitor"
)

const namespace = "vpsd"

// Metrics wraps the Prometheus collectors the worker updates. It has its
// own registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Attempts      *prometheus.CounterVec
	Events        *prometheus.CounterVec
	JobErrors     *prometheus.CounterVec
	ActiveRecords *prometheus.GaugeVec
	HeldLocks     prometheus.Gauge
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "attempts_total",
			Help:      "Monitoring attempts by job kind and outcome",
		}, []string{"kind", "outcome"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "events_total",
			Help:      "Events emitted by monitoring attempts",
		}, []string{"kind", "type"}),
		JobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "job_errors_total",
			Help:      "Attempts that failed unexpectedly and were redelivered",
		}, []string{"kind", "op"}),
		ActiveRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_records",
			Help:      "Records that have not reached a terminal status",
		}, []string{"kind"}),
		HeldLocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "held_locks",
			Help:      "Resource locks currently held",
		}),
	}

	reg.MustRegister(m.Attempts, m.Events, m.JobErrors, m.ActiveRecords, m.HeldLocks)
	return m
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe counts one attempt. It has the signature of monitor.Observer.
func (m *Metrics) Observe(_ context.Context, res monitor.Result, err error) {
	kind := res.Job.Kind
	if err != nil {
		op := "run"
		var jerr *monitor.JobError
		if errors.As(err, &jerr) {
			op = jerr.Op
		}
		m.JobErrors.WithLabelValues(kind, op).Inc()
		return
	}
	m.Attempts.WithLabelValues(kind, string(res.Outcome)).Inc()
	for _, ev := range res.Events {
		m.Events.WithLabelValues(kind, string(ev.Type)).Inc()
	}
}

// SetActive replaces the active record counts. Kinds missing from counts
// are reset to zero.
func (m *Metrics) SetActive(counts map[string]int) {
	m.ActiveRecords.Reset()
	for kind, n := range counts {
		m.ActiveRecords.WithLabelValues(kind).Set(float64(n))
	}
}
