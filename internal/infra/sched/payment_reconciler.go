package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/ports/repository"
	"drivepass-billing/internal/infra/metrics"
	"drivepass-billing/internal/usecase"
)

// PaymentReconciler repairs what a lost webhook or a crash left behind:
// stale pending payments are re-fetched from their provider and succeeded
// payments without a user package are activated.
type PaymentReconciler struct {
	webhooks   usecase.WebhookUseCase
	payments   repository.PaymentRepository
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending payment must be to retry
	batch      int
	log        *zerolog.Logger
}

// ReconcileReport summarises one pass.
type ReconcileReport struct {
	Refetched int
	Activated int
	Failed    int
}

func NewPaymentReconciler(webhooks usecase.WebhookUseCase, payments repository.PaymentRepository, interval, staleAfter time.Duration, batch int, logger *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{webhooks: webhooks, payments: payments, interval: interval, staleAfter: staleAfter, batch: batch, log: &l}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting payment reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-t.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.log.Error().Err(err).Msg("reconcile pass failed")
			}
		}
	}
}

// RunOnce performs a single pass. The error is only set when a listing query fails.
func (w *PaymentReconciler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	var rep ReconcileReport

	cutoff := time.Now().Add(-w.staleAfter)
	pending, err := w.payments.ListPendingOlderThan(ctx, nil, cutoff, w.batch)
	if err != nil {
		return rep, err
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		ref := p.Ref()
		if ref.IsZero() {
			continue
		}
		if _, err := w.webhooks.Refetch(ctx, ref); err != nil {
			rep.Failed++
			metrics.IncReconcile("refetch", "error")
			w.log.Warn().Err(err).Str("payment_id", p.ID).Str("ref", ref.String()).Msg("refetch failed")
			continue
		}
		rep.Refetched++
		metrics.IncReconcile("refetch", "ok")
	}

	orphans, err := w.payments.ListSucceededWithoutPackage(ctx, nil, w.batch)
	if err != nil {
		return rep, err
	}
	for _, p := range orphans {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		po := w.webhooks.ActivatePayment(ctx, p)
		switch {
		case po.Err != nil:
			rep.Failed++
			metrics.IncReconcile("activate", "error")
			lvl := zerolog.WarnLevel
			if errors.Is(po.Err, domain.ErrNotFound) {
				lvl = zerolog.ErrorLevel // package removed from the catalog
			}
			w.log.WithLevel(lvl).Err(po.Err).Str("payment_id", p.ID).Str("user_id", p.UserID).Msg("activation repair failed")
		case po.Skipped != "":
			metrics.IncReconcile("activate", "skipped")
		default:
			rep.Activated++
			metrics.IncReconcile("activate", "ok")
			w.log.Info().Str("payment_id", p.ID).Str("user_package_id", po.UserPackageID).Msg("lost activation repaired")
		}
	}

	if rep.Refetched+rep.Activated+rep.Failed > 0 {
		w.log.Info().Int("refetched", rep.Refetched).Int("activated", rep.Activated).Int("failed", rep.Failed).Msg("reconcile pass done")
	}
	return rep, nil
}
