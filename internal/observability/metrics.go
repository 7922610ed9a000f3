package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metric instruments
type Metrics struct {
	FailuresTotal       *prometheus.CounterVec
	HealDurationSeconds prometheus.Histogram
	HealingLinks        prometheus.Gauge
	ActiveRuns          prometheus.Gauge
	PathsComputedTotal  *prometheus.CounterVec
	EngineStepsTotal    *prometheus.CounterVec
	EventsDroppedTotal  prometheus.Counter
	ProbeResultsTotal   *prometheus.CounterVec
	RollbackTotal       *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers all metrics with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshheal_failures_total",
			Help: "Failure requests by element kind and whether they were accepted",
		}, []string{"kind", "accepted"}),

		HealDurationSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshheal_heal_duration_seconds",
			Help:    "Time from failure injection to healed state",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		HealingLinks: f.NewGauge(prometheus.GaugeOpts{
			Name: "meshheal_healing_links",
			Help: "Links currently carrying rerouted traffic",
		}),

		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Name: "meshheal_active_runs",
			Help: "Simulation runs started and not yet reset",
		}),

		PathsComputedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshheal_paths_computed_total",
			Help: "Path computations by mode",
		}, []string{"mode"}),

		EngineStepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshheal_engine_steps_total",
			Help: "Observed shortest-path engine steps by kind",
		}, []string{"kind"}),

		EventsDroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "meshheal_events_dropped_total",
			Help: "Events dropped because a subscriber was too slow",
		}),

		ProbeResultsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshheal_probe_results_total",
			Help: "Total probe execution results",
		}, []string{"probe_type", "passed"}),

		RollbackTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshheal_rollback_total",
			Help: "Total number of rollbacks",
		}, []string{"status"}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshheal_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meshheal_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
		}, []string{"method", "path"}),
	}
}

// RecordFailure counts a failure request for a node or link
func (m *Metrics) RecordFailure(kind string, accepted bool) {
	m.FailuresTotal.WithLabelValues(kind, strconv.FormatBool(accepted)).Inc()
}

// RecordHeal observes a completed heal
func (m *Metrics) RecordHeal(seconds float64, healingLinks int) {
	m.HealDurationSeconds.Observe(seconds)
	m.HealingLinks.Set(float64(healingLinks))
}

// RecordRunStart increments the active runs gauge
func (m *Metrics) RecordRunStart() {
	m.ActiveRuns.Inc()
}

// RecordRunEnd decrements the active runs gauge and clears healing links
func (m *Metrics) RecordRunEnd() {
	m.ActiveRuns.Dec()
	m.HealingLinks.Set(0)
}

// RecordPath counts a path computation (shortest, ecmp, fallback)
func (m *Metrics) RecordPath(mode string) {
	m.PathsComputedTotal.WithLabelValues(mode).Inc()
}

// RecordStep counts an observed engine step
func (m *Metrics) RecordStep(kind string) {
	m.EngineStepsTotal.WithLabelValues(kind).Inc()
}

// RecordDroppedEvent counts an event a slow subscriber missed
func (m *Metrics) RecordDroppedEvent() {
	m.EventsDroppedTotal.Inc()
}

// RecordProbe records a probe outcome
func (m *Metrics) RecordProbe(probeType string, passed bool) {
	m.ProbeResultsTotal.WithLabelValues(probeType, strconv.FormatBool(passed)).Inc()
}

// RecordRollback records a rollback event
func (m *Metrics) RecordRollback(status string) {
	m.RollbackTotal.WithLabelValues(status).Inc()
}
