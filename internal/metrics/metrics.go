// Package metrics holds the prometheus collectors truthmint updates while it
// verifies and mints. They live in a private registry so a CLI run can write
// them to a node-exporter textfile without exposing an HTTP endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector.
//
// A nil *Metrics is valid and records nothing, so components can take one
// optionally.
type Metrics struct {
	Registry *prometheus.Registry

	// VerifyChecks counts verifier checks by phase, check name and result.
	VerifyChecks *prometheus.CounterVec

	// Mints counts confirm transactions by outcome (locked, rolled_back, failed).
	Mints *prometheus.CounterVec

	// Rollbacks counts rollbacks by whether they completed.
	Rollbacks *prometheus.CounterVec

	// MintDuration records confirm wall time in seconds.
	MintDuration prometheus.Histogram

	// StepDuration records each orchestrator step in seconds.
	StepDuration *prometheus.HistogramVec
}

// New registers the collectors in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		VerifyChecks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "truth_verify_checks_total",
			Help: "Verifier checks run, by phase, check and result.",
		}, []string{"phase", "check", "result"}),
		Mints: f.NewCounterVec(prometheus.CounterOpts{
			Name: "truth_mint_total",
			Help: "Confirm transactions, by outcome.",
		}, []string{"outcome"}),
		Rollbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "truth_rollbacks_total",
			Help: "Rollbacks, by whether every step succeeded.",
		}, []string{"complete"}),
		MintDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "truth_mint_duration_seconds",
			Help:    "Wall time of a confirm transaction.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		StepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "truth_mint_step_duration_seconds",
			Help:    "Wall time of each confirm step.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"step"}),
	}
}

// ObserveCheck records one verifier result.
func (m *Metrics) ObserveCheck(phase, check string, ok bool) {
	if m == nil {
		return
	}
	result := "pass"
	if !ok {
		result = "fail"
	}
	m.VerifyChecks.WithLabelValues(phase, check, result).Inc()
}

// ObserveMint records the outcome and duration of a confirm.
func (m *Metrics) ObserveMint(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Mints.WithLabelValues(outcome).Inc()
	m.MintDuration.Observe(seconds)
}

// ObserveStep records how long one orchestrator step took.
func (m *Metrics) ObserveStep(step string, seconds float64) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(seconds)
}

// ObserveRollback records a rollback.
func (m *Metrics) ObserveRollback(complete bool) {
	if m == nil {
		return
	}
	label := "true"
	if !complete {
		label = "false"
	}
	m.Rollbacks.WithLabelValues(label).Inc()
}

// WriteTextfile writes every collected metric to path in the text exposition
// format. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
