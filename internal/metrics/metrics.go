// Package metrics exposes driver counters through a Prometheus registry.
// A run writes them to a text file for node_exporter's textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Update outcomes.
const (
	OutcomeAccepted = "accepted" // Sample admitted to the hierarchy
	OutcomeDropped  = "dropped"  // Skipped by delta_N down-sampling
	OutcomeRejected = "rejected" // Update failed
)

// Metrics holds the driver metrics. Each instance owns its registry, so
// several drivers in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	updates      *prometheus.CounterVec
	steps        prometheus.Counter
	resident     *prometheus.GaugeVec
	checkpoints  prometheus.Counter
	stepDuration prometheus.Histogram
}

// New creates the metrics and registers them with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		updates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taucorr_updates_total",
			Help: "Correlator updates by outcome",
		}, []string{"correlator", "outcome"}),

		steps: factory.NewCounter(prometheus.CounterOpts{
			Name: "taucorr_steps_total",
			Help: "Driver steps completed",
		}),

		resident: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "taucorr_resident_samples",
			Help: "Samples held in the compression hierarchy per observable",
		}, []string{"correlator"}),

		checkpoints: factory.NewCounter(prometheus.CounterOpts{
			Name: "taucorr_checkpoints_total",
			Help: "Checkpoints written",
		}),

		stepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "taucorr_step_duration_seconds",
			Help:    "Time spent sampling and updating per driver step",
			Buckets: []float64{1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 0.1, 1},
		}),
	}
}

// Registry returns the registry holding the metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveUpdate counts one update of the named correlator.
func (m *Metrics) ObserveUpdate(correlator, outcome string) {
	m.updates.WithLabelValues(correlator, outcome).Inc()
}

// ObserveStep counts one completed step.
func (m *Metrics) ObserveStep(d time.Duration) {
	m.steps.Inc()
	m.stepDuration.Observe(d.Seconds())
}

// ObserveCheckpoint counts one checkpoint.
func (m *Metrics) ObserveCheckpoint() {
	m.checkpoints.Inc()
}

// SetResident records the resident sample count of a correlator.
func (m *Metrics) SetResident(correlator string, n int) {
	m.resident.WithLabelValues(correlator).Set(float64(n))
}

// Forget drops every series of a removed correlator.
func (m *Metrics) Forget(correlator string) {
	m.updates.DeletePartialMatch(prometheus.Labels{"correlator": correlator})
	m.resident.DeleteLabelValues(correlator)
}

// WriteFile writes the metrics in the Prometheus text format, atomically.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
