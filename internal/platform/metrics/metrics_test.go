package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveHealth("p1", true, 0.2)
	m.SetCircuitOpen("p1", true)
	m.RecordDispatch("p1", "success")
	m.RecordDispatch("p1", "success")
	m.RecordTaskRun("health", errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerHealth.WithLabelValues("p1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.circuitState.WithLabelValues("p1")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatchAttempts.WithLabelValues("p1", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskRuns.WithLabelValues("health", "error")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveHealth("p1", false, 1)
		m.SetCircuitOpen("p1", false)
		m.RecordDispatch("p1", "error")
		m.RecordCatalogSync("p1", "cached")
		m.RecordTaskRun("x", nil)
	})
}
