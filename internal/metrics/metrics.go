// Package metrics records decode, integrity and rule outcomes for a run and
// writes them in the Prometheus text format for the node-exporter textfile
// collector.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds one run's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	FilesProcessed  *prometheus.CounterVec
	LinesDecoded    *prometheus.CounterVec
	LinesDropped    *prometheus.CounterVec
	CoercionErrors  *prometheus.CounterVec
	IntegrityMisses *prometheus.CounterVec
	Findings        *prometheus.CounterVec
	RuleDuration    *prometheus.HistogramVec
	FileDuration    prometheus.Histogram
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		FilesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claimcheck_files_processed_total",
			Help: "Input files processed, by outcome (ok, failed)",
		}, []string{"outcome"}),
		LinesDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claimcheck_lines_decoded_total",
			Help: "Declaration lines decoded, by record type",
		}, []string{"record_type"}),
		LinesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claimcheck_lines_dropped_total",
			Help: "Declaration lines excluded from typed collections, by reason",
		}, []string{"reason"}),
		CoercionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claimcheck_coercion_errors_total",
			Help: "Field values that failed coercion, by field",
		}, []string{"field"}),
		IntegrityMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claimcheck_integrity_mismatches_total",
			Help: "Trailer count mismatches, by category",
		}, []string{"category"}),
		Findings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "claimcheck_rule_findings_total",
			Help: "Claim lines flagged, by rule",
		}, []string{"rule"}),
		RuleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claimcheck_rule_duration_seconds",
			Help:    "Duration of one rule evaluation over one file",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"rule"}),
		FileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "claimcheck_file_duration_seconds",
			Help:    "Duration of processing one input file end to end",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
	}
}

// Registry exposes the underlying registry, e.g. for tests or an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveFile records the outcome and duration of one file.
// Call with time.Now() at the start of processing.
func (m *Metrics) ObserveFile(start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.FilesProcessed.WithLabelValues(outcome).Inc()
	m.FileDuration.Observe(time.Since(start).Seconds())
}

// AddLines records decoded lines of a record type.
func (m *Metrics) AddLines(recordType string, n int) {
	m.LinesDecoded.WithLabelValues(recordType).Add(float64(n))
}

// AddDropped records excluded lines for a reason.
func (m *Metrics) AddDropped(reason string, n int) {
	if n > 0 {
		m.LinesDropped.WithLabelValues(reason).Add(float64(n))
	}
}

// IncCoercionError records one field that failed coercion.
func (m *Metrics) IncCoercionError(field string) {
	m.CoercionErrors.WithLabelValues(field).Inc()
}

// IncIntegrityMismatch records one mismatching trailer category.
func (m *Metrics) IncIntegrityMismatch(category string) {
	m.IntegrityMisses.WithLabelValues(category).Inc()
}

// ObserveRule records the findings and duration of one rule evaluation.
func (m *Metrics) ObserveRule(rule string, findings int, elapsed time.Duration) {
	m.Findings.WithLabelValues(rule).Add(float64(findings))
	m.RuleDuration.WithLabelValues(rule).Observe(elapsed.Seconds())
}

// WriteFile writes all metrics to path in the text exposition format. The
// file is replaced atomically so a collector never sees a partial write.
func (m *Metrics) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
