//go:build !integration

package sched_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/repository"
	"drivepass-billing/internal/infra/sched"
	"drivepass-billing/internal/usecase"
)

// ---- mocks ----

type mockPaymentRepo struct {
	repository.PaymentRepository

	pending  []*model.Payment
	orphans  []*model.Payment
	cutoff   time.Time
	listErr  error
}

func (m *mockPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	m.cutoff = olderThan
	return m.pending, m.listErr
}

func (m *mockPaymentRepo) ListSucceededWithoutPackage(ctx context.Context, tx repository.Tx, limit int) ([]*model.Payment, error) {
	return m.orphans, nil
}

type mockWebhooks struct {
	usecase.WebhookUseCase

	RefetchFunc  func(ctx context.Context, ref model.ProviderRef) (*usecase.Outcome, error)
	ActivateFunc func(ctx context.Context, p *model.Payment) usecase.PaymentOutcome
	refetched    []model.ProviderRef
}

func (m *mockWebhooks) Refetch(ctx context.Context, ref model.ProviderRef) (*usecase.Outcome, error) {
	m.refetched = append(m.refetched, ref)
	if m.RefetchFunc != nil {
		return m.RefetchFunc(ctx, ref)
	}
	return &usecase.Outcome{}, nil
}

func (m *mockWebhooks) ActivatePayment(ctx context.Context, p *model.Payment) usecase.PaymentOutcome {
	return m.ActivateFunc(ctx, p)
}

type mockUserPackageRepo struct {
	repository.UserPackageRepository
	count int
	err   error
}

func (m *mockUserPackageRepo) CountUsersWithMultipleActive(ctx context.Context, tx repository.Tx) (int, error) {
	return m.count, m.err
}

type mockAlerter struct{ alerts []string }

func (m *mockAlerter) Alert(ctx context.Context, text string) error {
	m.alerts = append(m.alerts, text)
	return nil
}

func payment(id string, provider model.Provider, status model.PaymentStatus) *model.Payment {
	p := &model.Payment{ID: id, UserID: "u1", PackageID: "p1", Status: status, Amount: decimal.NewFromInt(197)}
	p.SetRef(model.ProviderRef{Provider: provider, ExternalID: "ext-" + id})
	return p
}

// ---- tests ----

func TestPaymentReconciler_RunOnce(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()

	t.Run("refetches stale pending payments and repairs lost activations", func(t *testing.T) {
		repo := &mockPaymentRepo{
			pending: []*model.Payment{
				payment("a", model.ProviderMercadoPago, model.PaymentStatusPending),
				payment("b", model.ProviderStripe, model.PaymentStatusPending),
			},
			orphans: []*model.Payment{payment("c", model.ProviderMercadoPago, model.PaymentStatusSucceeded)},
		}
		wh := &mockWebhooks{
			RefetchFunc: func(ctx context.Context, ref model.ProviderRef) (*usecase.Outcome, error) {
				if ref.ExternalID == "ext-b" {
					return nil, domain.ErrGatewayUnavailable
				}
				return &usecase.Outcome{}, nil
			},
			ActivateFunc: func(ctx context.Context, p *model.Payment) usecase.PaymentOutcome {
				return usecase.PaymentOutcome{PaymentID: p.ID, UserPackageID: "up-1"}
			},
		}
		r := sched.NewPaymentReconciler(wh, repo, time.Minute, 15*time.Minute, 10, &logger)

		rep, err := r.RunOnce(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if rep.Refetched != 1 || rep.Failed != 1 || rep.Activated != 1 {
			t.Errorf("unexpected report %+v", rep)
		}
		if len(wh.refetched) != 2 || wh.refetched[0].Provider != model.ProviderMercadoPago {
			t.Errorf("unexpected refetches %v", wh.refetched)
		}
		if age := time.Since(repo.cutoff); age < 15*time.Minute || age > 16*time.Minute {
			t.Errorf("expected a 15 minute staleness cutoff, got %s", age)
		}
	})

	t.Run("already activated payments are not counted as repairs", func(t *testing.T) {
		repo := &mockPaymentRepo{orphans: []*model.Payment{payment("c", model.ProviderStripe, model.PaymentStatusSucceeded)}}
		wh := &mockWebhooks{ActivateFunc: func(ctx context.Context, p *model.Payment) usecase.PaymentOutcome {
			return usecase.PaymentOutcome{Skipped: "already_activated"}
		}}
		rep, _ := sched.NewPaymentReconciler(wh, repo, 0, 0, 0, &logger).RunOnce(ctx)
		if rep.Activated != 0 || rep.Failed != 0 {
			t.Errorf("unexpected report %+v", rep)
		}
	})

	t.Run("listing errors abort the pass", func(t *testing.T) {
		repo := &mockPaymentRepo{listErr: errors.New("db down")}
		if _, err := sched.NewPaymentReconciler(&mockWebhooks{}, repo, 0, 0, 0, &logger).RunOnce(ctx); err == nil {
			t.Fatal("expected an error")
		}
	})
}

func TestIntegrityWorker_Check(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()
	repo := &mockUserPackageRepo{}
	alerts := &mockAlerter{}
	w := sched.NewIntegrityWorker(time.Minute, repo, alerts, &logger)

	if n, err := w.Check(ctx); err != nil || n != 0 || len(alerts.alerts) != 0 {
		t.Fatalf("expected a clean check, got %d %v %v", n, err, alerts.alerts)
	}

	repo.count = 2
	if n, _ := w.Check(ctx); n != 2 || len(alerts.alerts) != 1 {
		t.Fatalf("expected one alert, got %d %v", n, alerts.alerts)
	}
	// unchanged count does not alert again
	_, _ = w.Check(ctx)
	if len(alerts.alerts) != 1 {
		t.Errorf("expected no repeated alert, got %d", len(alerts.alerts))
	}

	repo.err = errors.New("db down")
	if _, err := w.Check(ctx); err == nil {
		t.Error("expected the error to surface")
	}
}
