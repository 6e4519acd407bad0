package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/repository"
)

var _ repository.UserPackageRepository = (*userPackageRepo)(nil)

const userPackageCols = `id, user_id, package_id, payment_id, status, purchased_at, expired_at,
  practical_hours_used, theoretical_classes_used, simulations_used`

// Constraint names from deploy/postgres/init.sql.
const (
	constraintPaymentUnique = "user_packages_payment_id_key"
	constraintOneActive     = "user_packages_one_active_idx"
)

// usage kind -> (used column, included column)
var usageColumns = map[model.UsageKind][2]string{
	model.UsagePracticalHours:     {"practical_hours_used", "practical_hours_included"},
	model.UsageTheoreticalClasses: {"theoretical_classes_used", "theoretical_classes_included"},
	model.UsageSimulations:        {"simulations_used", "simulations_included"},
}

type userPackageRepo struct{ pool *pgxpool.Pool }

func NewUserPackageRepo(pool *pgxpool.Pool) *userPackageRepo {
	return &userPackageRepo{pool: pool}
}

func scanUserPackage(row rowScanner) (*model.UserPackage, error) {
	var (
		up     model.UserPackage
		status string
	)
	if err := row.Scan(&up.ID, &up.UserID, &up.PackageID, &up.PaymentID, &status, &up.PurchasedAt, &up.ExpiredAt,
		&up.PracticalHoursUsed, &up.TheoreticalClassesUsed, &up.SimulationsUsed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	up.Status = model.UserPackageStatus(status)
	return &up, nil
}

// LockUser takes a transaction-scoped advisory lock on the user.
func (r *userPackageRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	if !isTx(tx) {
		return domain.ErrInvalidExecContext
	}
	_, err := execSQL(ctx, r.pool, tx, `SELECT pg_advisory_xact_lock($1);`, hashToInt64(userID))
	return mapErr("lock user", err)
}

func (r *userPackageRepo) ExpireActive(ctx context.Context, tx repository.Tx, userID string, at time.Time) (int64, error) {
	const q = `UPDATE user_packages SET status='expired', expired_at=$2 WHERE user_id=$1 AND status='active';`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, at)
	if err != nil {
		return 0, mapErr("expire user packages", err)
	}
	return cmd.RowsAffected(), nil
}

func (r *userPackageRepo) Insert(ctx context.Context, tx repository.Tx, up *model.UserPackage) error {
	q := `INSERT INTO user_packages (` + userPackageCols + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10);`
	_, err := execSQL(ctx, r.pool, tx, q, up.ID, up.UserID, up.PackageID, up.PaymentID, string(up.Status),
		up.PurchasedAt, up.ExpiredAt, up.PracticalHoursUsed, up.TheoreticalClassesUsed, up.SimulationsUsed)
	if err != nil {
		if name, ok := uniqueViolation(err); ok {
			switch name {
			case constraintPaymentUnique:
				return domain.ErrAlreadyActivated
			case constraintOneActive:
				return domain.ErrIntegrityViolation
			}
			return domain.ErrAlreadyExists
		}
		return mapErr("insert user package", err)
	}
	return nil
}

func (r *userPackageRepo) findOne(ctx context.Context, tx repository.Tx, where string, arg interface{}) (*model.UserPackage, error) {
	q := `SELECT ` + userPackageCols + ` FROM user_packages WHERE ` + where
	if isTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q+";", arg)
	if err != nil {
		return nil, err
	}
	return scanUserPackage(row)
}

func (r *userPackageRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.UserPackage, error) {
	return r.findOne(ctx, tx, "id=$1", id)
}

func (r *userPackageRepo) FindByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.UserPackage, error) {
	return r.findOne(ctx, tx, "payment_id=$1", paymentID)
}

func (r *userPackageRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.UserPackage, error) {
	return r.findOne(ctx, tx, "user_id=$1 AND status='active'", userID)
}

// Consume increments one counter only while the package bound allows it. The
// package quantities come back from the same UPDATE so the balance needs no second read.
func (r *userPackageRepo) Consume(ctx context.Context, tx repository.Tx, id string, kind model.UsageKind, amount int) (*model.Consumption, bool, error) {
	cols, ok := usageColumns[kind]
	if !ok || amount <= 0 {
		return nil, false, domain.ErrInvalidArgument
	}
	used, included := cols[0], cols[1]
	q := `
UPDATE user_packages up SET ` + used + ` = up.` + used + ` + $2
FROM packages p
WHERE up.id = $1 AND up.package_id = p.id AND up.status = 'active'
  AND (p.` + included + ` = -1 OR up.` + used + ` + $2 <= p.` + included + `)
RETURNING up.id, up.user_id, up.package_id, up.payment_id, up.status, up.purchased_at, up.expired_at,
  up.practical_hours_used, up.theoretical_classes_used, up.simulations_used,
  p.practical_hours_included, p.theoretical_classes_included, p.simulations_included;`

	row, err := pickRow(ctx, r.pool, tx, q, id, amount)
	if err != nil {
		return nil, false, err
	}
	var (
		up     model.UserPackage
		pkg    model.Package
		status string
	)
	err = row.Scan(&up.ID, &up.UserID, &up.PackageID, &up.PaymentID, &status, &up.PurchasedAt, &up.ExpiredAt,
		&up.PracticalHoursUsed, &up.TheoreticalClassesUsed, &up.SimulationsUsed,
		&pkg.PracticalHoursIncluded, &pkg.TheoreticalClassesIncluded, &pkg.SimulationsIncluded)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	up.Status = model.UserPackageStatus(status)
	return &model.Consumption{UserPackage: &up, Balance: up.Remaining(&pkg)}, true, nil
}

func (r *userPackageRepo) CountUsersWithMultipleActive(ctx context.Context, tx repository.Tx) (int, error) {
	const q = `
SELECT COUNT(*) FROM (
  SELECT user_id FROM user_packages WHERE status='active' GROUP BY user_id HAVING COUNT(*) > 1
) t;`
	row, err := pickRow(ctx, r.pool, tx, q)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	return n, nil
}
