package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

const paymentCols = `id, user_id, package_id, provider, stripe_checkout_session_id, stripe_payment_intent_id,
  mp_payment_id, mp_preference_id, amount, currency, status, provider_status, metadata, succeeded_at, created_at, updated_at`

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(row rowScanner) (*model.Payment, error) {
	var (
		p        model.Payment
		provider string
		status   string
		meta     []byte
	)
	err := row.Scan(&p.ID, &p.UserID, &p.PackageID, &provider, &p.StripeCheckoutSessionID, &p.StripePaymentIntentID,
		&p.MPPaymentID, &p.MPPreferenceID, &p.Amount, &p.Currency, &status, &p.ProviderStatus, &meta,
		&p.SucceededAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	p.Provider = model.Provider(provider)
	p.Status = model.PaymentStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	return &p, nil
}

func encodeMeta(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (r *paymentRepo) Insert(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if p.Ref().IsZero() || !p.Status.Valid() {
		return domain.ErrInvalidArgument
	}
	meta, err := encodeMeta(p.Metadata)
	if err != nil {
		return fmt.Errorf("%w: metadata: %v", domain.ErrInvalidArgument, err)
	}
	const q = `
INSERT INTO payments (` + paymentCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16);`

	_, err = execSQL(ctx, r.pool, tx, q, p.ID, p.UserID, p.PackageID, string(p.Provider), p.StripeCheckoutSessionID,
		p.StripePaymentIntentID, p.MPPaymentID, p.MPPreferenceID, p.Amount, p.Currency, string(p.Status),
		p.ProviderStatus, meta, p.SucceededAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return domain.ErrAlreadyExists
		}
		return mapErr("insert payment", err)
	}
	return nil
}

// Update writes status, amount, currency, provider status, metadata and updated_at.
// Secondary ids (session / preference) are filled once; succeeded_at is never overwritten.
func (r *paymentRepo) Update(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	meta, err := encodeMeta(p.Metadata)
	if err != nil {
		return fmt.Errorf("%w: metadata: %v", domain.ErrInvalidArgument, err)
	}
	const q = `
UPDATE payments SET
  status=$2, provider_status=$3, amount=$4, currency=$5, metadata=$6,
  stripe_checkout_session_id=COALESCE(stripe_checkout_session_id, $7),
  mp_preference_id=COALESCE(mp_preference_id, $8),
  succeeded_at=COALESCE(succeeded_at, $9),
  updated_at=$10
WHERE id=$1;`

	cmd, err := execSQL(ctx, r.pool, tx, q, p.ID, string(p.Status), p.ProviderStatus, p.Amount, p.Currency, meta,
		p.StripeCheckoutSessionID, p.MPPreferenceID, p.SucceededAt, p.UpdatedAt)
	if err != nil {
		return mapErr("update payment", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := `SELECT ` + paymentCols + ` FROM payments WHERE id=$1`
	if isTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", id)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) FindByProviderRef(ctx context.Context, tx repository.Tx, ref model.ProviderRef) (*model.Payment, error) {
	var col string
	switch ref.Provider {
	case model.ProviderStripe:
		col = "stripe_payment_intent_id"
	case model.ProviderMercadoPago:
		col = "mp_payment_id"
	default:
		return nil, domain.ErrUnknownProvider
	}
	if ref.ExternalID == "" {
		return nil, domain.ErrInvalidArgument
	}
	q := `SELECT ` + paymentCols + ` FROM payments WHERE provider=$1 AND ` + col + `=$2`
	if isTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", string(ref.Provider), ref.ExternalID)
	if err != nil {
		return nil, err
	}
	return scanPayment(row)
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + paymentCols + ` FROM payments WHERE status='pending' AND updated_at < $1 ORDER BY updated_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, limit)
}

// ListSucceededWithoutPackage returns succeeded payments that never produced a user package
// and were not superseded by a later purchase of the same user.
func (r *paymentRepo) ListSucceededWithoutPackage(ctx context.Context, tx repository.Tx, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT ` + paymentCols + ` FROM payments p
WHERE p.status='succeeded'
  AND NOT EXISTS (SELECT 1 FROM user_packages up WHERE up.payment_id = p.id)
  AND NOT EXISTS (SELECT 1 FROM user_packages up WHERE up.user_id = p.user_id AND up.purchased_at > p.succeeded_at)
ORDER BY p.succeeded_at ASC
LIMIT $1;`
	return r.list(ctx, tx, q, limit)
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Payment, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr("list payments", err)
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("list payments", err)
	}
	return out, nil
}

var sumPeriods = map[string]bool{"day": true, "week": true, "month": true, "year": true, "all": true}

func (r *paymentRepo) SumSucceededByPeriod(ctx context.Context, tx repository.Tx, period string) (map[string]decimal.Decimal, error) {
	if !sumPeriods[period] {
		return nil, domain.ErrInvalidArgument
	}
	q := `SELECT currency, COALESCE(SUM(amount),0) FROM payments WHERE status='succeeded'`
	var args []interface{}
	if period != "all" {
		q += ` AND succeeded_at >= DATE_TRUNC($1, NOW())`
		args = append(args, period)
	}
	q += ` GROUP BY currency;`

	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr("sum payments", err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			cur string
			sum decimal.Decimal
		)
		if err := rows.Scan(&cur, &sum); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		out[cur] = sum
	}
	return out, rows.Err()
}
