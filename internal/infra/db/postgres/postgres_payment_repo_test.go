//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/repository"
)

func seedPackage(t *testing.T, id string, hours int) *model.Package {
	t.Helper()
	p, err := model.NewPackage(id, "Pkg "+id, decimal.RequireFromString("150.00"), "BRL", hours, 10, model.Unlimited, true)
	if err != nil {
		t.Fatalf("new package: %v", err)
	}
	if err := NewPackageRepo(testPool).Save(context.Background(), nil, p); err != nil {
		t.Fatalf("failed to save package: %v", err)
	}
	return p
}

func newMPPayment(userID, packageID, mpID string, status model.PaymentStatus) *model.Payment {
	now := time.Now().UTC().Truncate(time.Microsecond)
	p := &model.Payment{
		ID:             uuid.NewString(),
		UserID:         userID,
		PackageID:      packageID,
		Amount:         decimal.RequireFromString("150.00"),
		Currency:       "BRL",
		Status:         status,
		ProviderStatus: "pending",
		Metadata:       map[string]any{"method": "pix"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	p.SetRef(model.ProviderRef{Provider: model.ProviderMercadoPago, ExternalID: mpID})
	if status == model.PaymentStatusSucceeded {
		p.SucceededAt = &now
	}
	return p
}

func TestPaymentRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewPaymentRepo(testPool)

	t.Run("should insert and find by provider ref", func(t *testing.T) {
		cleanup(t)
		seedPackage(t, "p1", 10)

		p := newMPPayment("u1", "p1", "mp-1", model.PaymentStatusPending)
		if err := repo.Insert(ctx, nil, p); err != nil {
			t.Fatalf("Failed to insert payment: %v", err)
		}

		got, err := repo.FindByProviderRef(ctx, nil, model.ProviderRef{Provider: model.ProviderMercadoPago, ExternalID: "mp-1"})
		if err != nil {
			t.Fatalf("Failed to find payment: %v", err)
		}
		if got.ID != p.ID || got.Status != model.PaymentStatusPending || !got.Amount.Equal(p.Amount) {
			t.Errorf("unexpected payment %+v", got)
		}
		if got.Metadata["method"] != "pix" {
			t.Errorf("metadata not round-tripped: %+v", got.Metadata)
		}

		// same id under the other provider never matches
		if _, err := repo.FindByProviderRef(ctx, nil, model.ProviderRef{Provider: model.ProviderStripe, ExternalID: "mp-1"}); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound across providers, got %v", err)
		}
	})

	t.Run("duplicate provider id is rejected", func(t *testing.T) {
		cleanup(t)
		seedPackage(t, "p1", 10)
		if err := repo.Insert(ctx, nil, newMPPayment("u1", "p1", "mp-dup", model.PaymentStatusPending)); err != nil {
			t.Fatal(err)
		}
		err := repo.Insert(ctx, nil, newMPPayment("u1", "p1", "mp-dup", model.PaymentStatusSucceeded))
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("update keeps succeeded_at once set", func(t *testing.T) {
		cleanup(t)
		seedPackage(t, "p1", 10)
		p := newMPPayment("u1", "p1", "mp-2", model.PaymentStatusSucceeded)
		first := *p.SucceededAt
		if err := repo.Insert(ctx, nil, p); err != nil {
			t.Fatal(err)
		}

		later := first.Add(time.Hour)
		p.Status = model.PaymentStatusRefunded
		p.ProviderStatus = "refunded"
		p.SucceededAt = &later
		p.UpdatedAt = later
		if err := repo.Update(ctx, nil, p); err != nil {
			t.Fatalf("update failed: %v", err)
		}
		got, _ := repo.FindByID(ctx, nil, p.ID)
		if got.Status != model.PaymentStatusRefunded {
			t.Errorf("expected refunded, got %s", got.Status)
		}
		if got.SucceededAt == nil || !got.SucceededAt.Equal(first) {
			t.Errorf("succeeded_at must not move, got %v want %v", got.SucceededAt, first)
		}
	})

	t.Run("find by ref locks inside a transaction", func(t *testing.T) {
		cleanup(t)
		seedPackage(t, "p1", 10)
		p := newMPPayment("u1", "p1", "mp-3", model.PaymentStatusPending)
		if err := repo.Insert(ctx, nil, p); err != nil {
			t.Fatal(err)
		}
		tm := NewTxManager(testPool)
		err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			_, err := repo.FindByProviderRef(ctx, tx, p.Ref())
			return err
		})
		if err != nil {
			t.Fatalf("expected locked read to succeed, got %v", err)
		}
	})

	t.Run("list stale pending and sum succeeded", func(t *testing.T) {
		cleanup(t)
		seedPackage(t, "p1", 10)
		old := newMPPayment("u1", "p1", "mp-old", model.PaymentStatusPending)
		old.UpdatedAt = time.Now().Add(-2 * time.Hour)
		fresh := newMPPayment("u2", "p1", "mp-fresh", model.PaymentStatusPending)
		paid := newMPPayment("u3", "p1", "mp-paid", model.PaymentStatusSucceeded)
		for _, p := range []*model.Payment{old, fresh, paid} {
			if err := repo.Insert(ctx, nil, p); err != nil {
				t.Fatal(err)
			}
		}

		stale, err := repo.ListPendingOlderThan(ctx, nil, time.Now().Add(-time.Hour), 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(stale) != 1 || stale[0].ID != old.ID {
			t.Errorf("expected only the old pending payment, got %d", len(stale))
		}

		sums, err := repo.SumSucceededByPeriod(ctx, nil, "all")
		if err != nil {
			t.Fatal(err)
		}
		if !sums["BRL"].Equal(decimal.RequireFromString("150")) {
			t.Errorf("unexpected sum %v", sums)
		}
		if _, err := repo.SumSucceededByPeriod(ctx, nil, "decade"); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}

		orphans, err := repo.ListSucceededWithoutPackage(ctx, nil, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(orphans) != 1 || orphans[0].ID != paid.ID {
			t.Errorf("expected the succeeded payment as orphan, got %d", len(orphans))
		}
	})
}
