package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetricsWith(reg), reg
}

func TestNewMetricsFields(t *testing.T) {
	m, _ := newTestMetrics(t)

	assert.NotNil(t, m.FailuresTotal)
	assert.NotNil(t, m.HealDurationSeconds)
	assert.NotNil(t, m.HealingLinks)
	assert.NotNil(t, m.ActiveRuns)
	assert.NotNil(t, m.PathsComputedTotal)
	assert.NotNil(t, m.EngineStepsTotal)
	assert.NotNil(t, m.EventsDroppedTotal)
	assert.NotNil(t, m.ProbeResultsTotal)
	assert.NotNil(t, m.RollbackTotal)
	assert.NotNil(t, m.HTTPRequestsTotal)
	assert.NotNil(t, m.HTTPRequestDuration)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetricsWith(reg)
	assert.Panics(t, func() { NewMetricsWith(reg) })
}

func TestRecordFailure(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordFailure("node", true)
	m.RecordFailure("node", false)
	m.RecordFailure("node", false)
	m.RecordFailure("link", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailuresTotal.WithLabelValues("node", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FailuresTotal.WithLabelValues("node", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailuresTotal.WithLabelValues("link", "true")))
}

func TestRunLifecycle(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordRunStart()
	m.RecordHeal(0.5, 4)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveRuns))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.HealingLinks))

	count, err := testutil.GatherAndCount(reg, "meshheal_heal_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	m.RecordRunEnd()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveRuns))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.HealingLinks))
}

func TestRecordCounters(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordPath("shortest")
	m.RecordPath("shortest")
	m.RecordStep("node-finalized")
	m.RecordDroppedEvent()
	m.RecordProbe("gateway", true)
	m.RecordRollback("success")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PathsComputedTotal.WithLabelValues("shortest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineStepsTotal.WithLabelValues("node-finalized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDroppedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbeResultsTotal.WithLabelValues("gateway", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RollbackTotal.WithLabelValues("success")))
}

func TestHTTPMetrics(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.HTTPRequestsTotal.WithLabelValues("GET", "/api/topology", "200").Inc()
	m.HTTPRequestDuration.WithLabelValues("GET", "/api/topology").Observe(0.05)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/topology", "200")))
}
