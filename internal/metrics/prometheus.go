package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements Collector on a private Prometheus registry.
type PrometheusCollector struct {
	registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationLatency  *prometheus.HistogramVec
	circuitState      *prometheus.GaugeVec
	idempotentReplays *prometheus.CounterVec
}

// NewPrometheusCollector creates the ledger metrics under namespace and registers them.
func NewPrometheusCollector(namespace string) (*PrometheusCollector, error) {
	pc := &PrometheusCollector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_operations_total",
				Help:      "Total number of ledger operations per operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		operationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ledger_operation_duration_seconds",
				Help:      "Ledger operation latency including lock waits",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		idempotentReplays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "idempotent_replays_total",
				Help:      "Responses replayed from the idempotency cache per route",
			},
			[]string{"route"},
		),
	}

	all := []prometheus.Collector{
		pc.operations,
		pc.operationLatency,
		pc.circuitState,
		pc.idempotentReplays,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, collector := range all {
		if err := pc.registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// RecordOperation observes a ledger operation.
func (pc *PrometheusCollector) RecordOperation(operation, outcome string, duration time.Duration) {
	pc.operations.WithLabelValues(operation, outcome).Inc()
	pc.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCircuitState records the current breaker state.
func (pc *PrometheusCollector) RecordCircuitState(name string, state CircuitState) {
	pc.circuitState.WithLabelValues(name).Set(float64(state))
}

// RecordIdempotentReplay counts a replayed response.
func (pc *PrometheusCollector) RecordIdempotentReplay(route string) {
	pc.idempotentReplays.WithLabelValues(route).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (pc *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(pc.registry, promhttp.HandlerOpts{Registry: pc.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (pc *PrometheusCollector) Registry() *prometheus.Registry {
	return pc.registry
}
