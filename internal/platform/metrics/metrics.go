package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gateway"

// Metrics groups the control-plane collectors. A nil *Metrics is valid and
// records nothing, so services can be constructed without telemetry in tests.
type Metrics struct {
	providerHealth   *prometheus.GaugeVec
	providerLatency  *prometheus.HistogramVec
	circuitState     *prometheus.GaugeVec
	dispatchAttempts *prometheus.CounterVec
	catalogSyncs     *prometheus.CounterVec
	taskRuns         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		providerHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_health",
				Help:      "Provider reachability from the last health probe (1=up, 0=down)",
			},
			[]string{"provider"},
		),
		providerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_probe_latency_seconds",
				Help:      "Health probe latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_circuit_open",
				Help:      "Whether the provider circuit breaker is open (1) or not (0)",
			},
			[]string{"provider"},
		),
		dispatchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_attempts_total",
				Help:      "Upstream dispatch attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		catalogSyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_syncs_total",
				Help:      "Model catalog synchronizations by provider and result (changed, cached, error)",
			},
			[]string{"provider", "result"},
		),
		taskRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_runs_total",
				Help:      "Background unit-of-work executions by name and result",
			},
			[]string{"task", "result"},
		),
	}

	reg.MustRegister(
		m.providerHealth,
		m.providerLatency,
		m.circuitState,
		m.dispatchAttempts,
		m.catalogSyncs,
		m.taskRuns,
	)

	return m
}

func (m *Metrics) ObserveHealth(provider string, up bool, latencySeconds float64) {
	if m == nil {
		return
	}
	value := 0.0
	if up {
		value = 1.0
	}
	m.providerHealth.WithLabelValues(provider).Set(value)
	m.providerLatency.WithLabelValues(provider).Observe(latencySeconds)
}

func (m *Metrics) SetCircuitOpen(provider string, open bool) {
	if m == nil {
		return
	}
	value := 0.0
	if open {
		value = 1.0
	}
	m.circuitState.WithLabelValues(provider).Set(value)
}

// RecordDispatch counts one candidate attempt. Outcomes: success, retryable,
// network, error, config, skipped.
func (m *Metrics) RecordDispatch(provider, outcome string) {
	if m == nil {
		return
	}
	m.dispatchAttempts.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordCatalogSync(provider, result string) {
	if m == nil {
		return
	}
	m.catalogSyncs.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) RecordTaskRun(task string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.taskRuns.WithLabelValues(task, result).Inc()
}
