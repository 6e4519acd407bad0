package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		webhookEventsTotal,
		webhookStageFailuresTotal,
		webhookDuration,
		webhookSignatureFailuresTotal,
	)
}

var (
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Processed provider notifications by kind and outcome.",
		},
		[]string{"provider", "kind", "outcome"}, // outcome: activated|recorded|ignored|failed|skipped
	)

	webhookStageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_stage_failures_total",
			Help: "Pipeline stage at which a notification stopped with an error.",
		},
		[]string{"provider", "stage"},
	)

	webhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_duration_seconds",
			Help:    "End-to-end webhook processing time.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider"},
	)

	webhookSignatureFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_signature_failures_total",
			Help: "Rejected notifications whose signature did not verify.",
		},
		[]string{"provider"},
	)
)

func IncWebhookEvent(provider, kind, outcome string) {
	webhookEventsTotal.WithLabelValues(norm(provider), norm(kind), norm(outcome)).Inc()
}

func IncWebhookStageFailure(provider, stage string) {
	webhookStageFailuresTotal.WithLabelValues(norm(provider), norm(stage)).Inc()
}

func ObserveWebhookDuration(provider string, d time.Duration) {
	webhookDuration.WithLabelValues(norm(provider)).Observe(d.Seconds())
}

func IncSignatureFailure(provider string) {
	webhookSignatureFailuresTotal.WithLabelValues(norm(provider)).Inc()
}
