package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		entitlementsActivatedTotal,
		entitlementsActivationFailuresTotal,
		userPackagesIntegrityViolations,
		usageConsumeTotal,
	)
}

var (
	entitlementsActivatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entitlements_activated_total",
			Help: "Total number of user packages activated.",
		},
	)

	entitlementsActivationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlements_activation_failures_total",
			Help: "Activation attempts that did not produce a new active package.",
		},
		[]string{"reason"}, // already_activated|integrity|error
	)

	userPackagesIntegrityViolations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "user_packages_integrity_violations",
			Help: "Users currently holding more than one active package.",
		},
	)

	usageConsumeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_consume_total",
			Help: "Usage consumption attempts by kind and result.",
		},
		[]string{"kind", "result"}, // ok|exhausted|error
	)
)

func IncEntitlementActivated() {
	entitlementsActivatedTotal.Inc()
}

func IncActivationFailure(reason string) {
	entitlementsActivationFailuresTotal.WithLabelValues(norm(reason)).Inc()
}

func SetIntegrityViolations(n int) {
	userPackagesIntegrityViolations.Set(float64(n))
}

func IncUsageConsume(kind, result string) {
	usageConsumeTotal.WithLabelValues(norm(kind), norm(result)).Inc()
}
