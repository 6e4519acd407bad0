package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		checkoutTotal,
		rateLimitTriggeredTotal,
		reconcileRunsTotal,
	)
}

var (
	checkoutTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_total",
			Help: "Checkout initiations by provider and result.",
		},
		[]string{"provider", "result"},
	)

	rateLimitTriggeredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_rate_limit_triggered_total",
			Help: "Total number of times users have been rate-limited at checkout.",
		},
	)

	reconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_items_total",
			Help: "Payments handled by the reconciler, by action and result.",
		},
		[]string{"action", "result"}, // action: refetch|activate
	)
)

func IncCheckout(provider, result string) {
	checkoutTotal.WithLabelValues(norm(provider), norm(result)).Inc()
}

func IncRateLimitTriggered() {
	rateLimitTriggeredTotal.Inc()
}

func IncReconcile(action, result string) {
	reconcileRunsTotal.WithLabelValues(norm(action), norm(result)).Inc()
}
