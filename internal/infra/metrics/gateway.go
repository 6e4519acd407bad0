package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		gatewayRequestsTotal,
		gatewayRequestDuration,
		gatewayCircuitState,
	)
}

var (
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound payment provider calls by operation and result.",
		},
		[]string{"provider", "operation", "result"}, // result: ok|error|unavailable
	)

	gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Latency of outbound payment provider calls.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"provider", "operation"},
	)

	gatewayCircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_state",
			Help: "Circuit breaker state per provider (0 closed, 1 half-open, 2 open).",
		},
		[]string{"provider"},
	)
)

func ObserveGatewayCall(provider, operation, result string, d time.Duration) {
	gatewayRequestsTotal.WithLabelValues(norm(provider), norm(operation), norm(result)).Inc()
	gatewayRequestDuration.WithLabelValues(norm(provider), norm(operation)).Observe(d.Seconds())
}

func SetGatewayCircuitState(provider string, state int) {
	gatewayCircuitState.WithLabelValues(norm(provider)).Set(float64(state))
}
