package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"drivepass-billing/internal/domain/ports/adapter"
	"drivepass-billing/internal/domain/ports/repository"
	"drivepass-billing/internal/infra/metrics"
)

// IntegrityWorker watches for users holding more than one active package.
// The unique index should make that impossible, so any hit is an ops alert.
type IntegrityWorker struct {
	interval     time.Duration
	userPackages repository.UserPackageRepository
	alerter      adapter.OpsAlerter
	last         int
	log          *zerolog.Logger
}

func NewIntegrityWorker(interval time.Duration, userPackages repository.UserPackageRepository, alerter adapter.OpsAlerter, logger *zerolog.Logger) *IntegrityWorker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	l := logger.With().Str("component", "IntegrityWorker").Logger()
	return &IntegrityWorker{
		interval:     interval,
		userPackages: userPackages,
		alerter:      alerter,
		log:          &l,
	}
}

func (w *IntegrityWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting integrity worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping integrity worker")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil {
				w.log.Error().Err(err).Msg("integrity check failed")
			}
		}
	}
}

// Check exports the violation count and alerts when it changes to a non-zero value.
func (w *IntegrityWorker) Check(ctx context.Context) (int, error) {
	n, err := w.userPackages.CountUsersWithMultipleActive(ctx, nil)
	if err != nil {
		return 0, err
	}
	metrics.SetIntegrityViolations(n)

	changed := n != w.last
	w.last = n
	if n == 0 || !changed {
		return n, nil
	}
	w.log.Error().Int("users", n).Msg("users with more than one active package")
	if w.alerter != nil {
		msg := fmt.Sprintf("%d user(s) hold more than one active package. Check user_packages.", n)
		if err := w.alerter.Alert(ctx, msg); err != nil {
			w.log.Warn().Err(err).Msg("integrity alert not delivered")
		}
	}
	return n, nil
}
