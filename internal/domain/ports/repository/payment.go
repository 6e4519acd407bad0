package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"drivepass-billing/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	// Insert fails with domain.ErrAlreadyExists when the provider id is already recorded.
	Insert(ctx context.Context, tx Tx, p *model.Payment) error
	// Update writes the mutable columns only; identity columns are never changed.
	Update(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	// FindByProviderRef locks the row when tx is a transaction.
	FindByProviderRef(ctx context.Context, tx Tx, ref model.ProviderRef) (*model.Payment, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
	ListSucceededWithoutPackage(ctx context.Context, tx Tx, limit int) ([]*model.Payment, error)
	// SumSucceededByPeriod sums succeeded amounts per currency; period is day|week|month|year|all.
	SumSucceededByPeriod(ctx context.Context, tx Tx, period string) (map[string]decimal.Decimal, error)
}
