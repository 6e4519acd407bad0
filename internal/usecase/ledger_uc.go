package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/repository"
	"drivepass-billing/internal/infra/logging"
	"drivepass-billing/internal/infra/metrics"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

// insert races on the provider unique index are retried this many times
const ledgerAttempts = 3

// NormalizedFields is the provider-independent view of one payment state.
type NormalizedFields struct {
	UserID         string
	PackageID      string
	SessionID      string // checkout session (stripe) or preference (mercado pago)
	ProviderStatus string
	Amount         decimal.Decimal
	Currency       string
	Metadata       map[string]any

	// ForceStatus overrides the mapping of ProviderStatus when set.
	ForceStatus model.PaymentStatus
}

// Status returns the canonical status these fields describe.
func (f NormalizedFields) Status(provider model.Provider) model.PaymentStatus {
	if f.ForceStatus != "" {
		return f.ForceStatus
	}
	return model.CanonicalStatus(provider, f.ProviderStatus)
}

type LedgerResult struct {
	Payment        *model.Payment
	Created        bool
	FirstSucceeded bool // this call moved the row into succeeded for the first time
	PreviousStatus model.PaymentStatus
}

type LedgerUseCase interface {
	// RecordEvent upserts the payment keyed by ref.
	RecordEvent(ctx context.Context, ref model.ProviderRef, f NormalizedFields) (*LedgerResult, error)
}

type ledgerUC struct {
	payments repository.PaymentRepository
	tm       repository.TransactionManager
	log      *zerolog.Logger
	now      func() time.Time
}

func NewLedgerUseCase(payments repository.PaymentRepository, tm repository.TransactionManager, logger *zerolog.Logger) *ledgerUC {
	return &ledgerUC{payments: payments, tm: tm, log: logger, now: time.Now}
}

func (u *ledgerUC) RecordEvent(ctx context.Context, ref model.ProviderRef, f NormalizedFields) (*LedgerResult, error) {
	defer logging.TraceDuration(u.log, "LedgerUC.RecordEvent")()

	if ref.IsZero() {
		return nil, fmt.Errorf("%w: empty provider reference", domain.ErrInvalidArgument)
	}
	status := f.Status(ref.Provider)

	var (
		res *LedgerResult
		err error
	)
	for attempt := 1; attempt <= ledgerAttempts; attempt++ {
		err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			var txErr error
			res, txErr = u.upsert(ctx, tx, ref, f, status)
			return txErr
		})
		if !errors.Is(err, domain.ErrAlreadyExists) {
			break
		}
		logging.With(ctx, u.log).Debug().Str("ref", ref.String()).Int("attempt", attempt).Msg("ledger insert raced, retrying")
	}
	if err != nil {
		return nil, err
	}

	if res.Created || res.PreviousStatus != res.Payment.Status {
		metrics.IncPayment(string(res.Payment.Status))
	}
	if res.FirstSucceeded {
		metrics.AddPaymentRevenue(res.Payment.Currency, res.Payment.Amount)
	}
	logging.With(ctx, u.log).Info().
		Str("payment_id", res.Payment.ID).
		Str("ref", ref.String()).
		Str("status", string(res.Payment.Status)).
		Str("previous_status", string(res.PreviousStatus)).
		Bool("created", res.Created).
		Bool("first_succeeded", res.FirstSucceeded).
		Msg("ledger updated")
	return res, nil
}

func (u *ledgerUC) upsert(ctx context.Context, tx repository.Tx, ref model.ProviderRef, f NormalizedFields, status model.PaymentStatus) (*LedgerResult, error) {
	now := u.now().UTC()

	existing, err := u.payments.FindByProviderRef(ctx, tx, ref)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		p, err := newLedgerPayment(ref, f, status, now)
		if err != nil {
			return nil, err
		}
		if err := u.payments.Insert(ctx, tx, p); err != nil {
			return nil, err
		}
		return &LedgerResult{Payment: p, Created: true, FirstSucceeded: p.SucceededAt != nil}, nil
	case err != nil:
		return nil, err
	}

	res := &LedgerResult{Payment: existing, PreviousStatus: existing.Status}
	applyFields(existing, f, status, now)
	if status == model.PaymentStatusSucceeded && existing.SucceededAt == nil {
		existing.SucceededAt = &now
		res.FirstSucceeded = true
	}
	if err := u.payments.Update(ctx, tx, existing); err != nil {
		return nil, err
	}
	return res, nil
}

func newLedgerPayment(ref model.ProviderRef, f NormalizedFields, status model.PaymentStatus, now time.Time) (*model.Payment, error) {
	if f.UserID == "" || f.PackageID == "" {
		return nil, fmt.Errorf("%w: payment %s has no owner", domain.ErrMalformedCorrelation, ref)
	}
	p := &model.Payment{
		ID:        uuid.NewString(),
		UserID:    f.UserID,
		PackageID: f.PackageID,
		CreatedAt: now,
	}
	p.SetRef(ref)
	applyFields(p, f, status, now)
	if status == model.PaymentStatusSucceeded {
		p.SucceededAt = &now
	}
	return p, nil
}

// applyFields writes the mutable columns. Status is last-write-wins.
func applyFields(p *model.Payment, f NormalizedFields, status model.PaymentStatus, now time.Time) {
	p.Status = status
	p.ProviderStatus = f.ProviderStatus
	if !f.Amount.IsZero() {
		p.Amount = f.Amount
	}
	if f.Currency != "" {
		p.Currency = strings.ToUpper(f.Currency)
	}
	if f.SessionID != "" {
		sid := f.SessionID
		switch p.Provider {
		case model.ProviderStripe:
			if p.StripeCheckoutSessionID == nil {
				p.StripeCheckoutSessionID = &sid
			}
		case model.ProviderMercadoPago:
			if p.MPPreferenceID == nil {
				p.MPPreferenceID = &sid
			}
		}
	}
	if len(f.Metadata) > 0 {
		if p.Metadata == nil {
			p.Metadata = make(map[string]any, len(f.Metadata))
		}
		for k, v := range f.Metadata {
			p.Metadata[k] = v
		}
	}
	p.UpdatedAt = now
}
