package payment

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"drivepass-billing/internal/config"
	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/infra/metrics"
)

// breaker guards one provider's outbound calls.
type breaker struct {
	provider string
	cb       *gobreaker.CircuitBreaker[any]
}

func newBreaker(provider string, cfg config.BreakerConfig, logger *zerolog.Logger) *breaker {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	settings := gobreaker.Settings{
		Name:        provider,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A missing resource is a valid answer, not a provider outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			metrics.SetGatewayCircuitState(name, int(to))
		},
	}
	metrics.SetGatewayCircuitState(provider, int(gobreaker.StateClosed))
	return &breaker{provider: provider, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// guarded runs fn through b, recording latency and result per operation.
func guarded[T any](b *breaker, op string, fn func() (T, error)) (T, error) {
	var zero T
	start := time.Now()
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ObserveGatewayCall(b.provider, op, "unavailable", time.Since(start))
		return zero, fmt.Errorf("%w: %s %s: %v", domain.ErrGatewayUnavailable, b.provider, op, err)
	case err != nil:
		metrics.ObserveGatewayCall(b.provider, op, "error", time.Since(start))
		return zero, err
	}
	metrics.ObserveGatewayCall(b.provider, op, "ok", time.Since(start))
	out, _ := res.(T)
	return out, nil
}
