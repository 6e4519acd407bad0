package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/repository"
)

var _ repository.PackageRepository = (*packageRepo)(nil)

const packageCols = `id, name, price, currency, practical_hours_included, theoretical_classes_included,
  simulations_included, support_access, active, created_at`

type packageRepo struct{ pool *pgxpool.Pool }

func NewPackageRepo(pool *pgxpool.Pool) *packageRepo {
	return &packageRepo{pool: pool}
}

func scanPackage(row rowScanner) (*model.Package, error) {
	var p model.Package
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Currency, &p.PracticalHoursIncluded, &p.TheoreticalClassesIncluded,
		&p.SimulationsIncluded, &p.SupportAccess, &p.Active, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	return &p, nil
}

func (r *packageRepo) Save(ctx context.Context, tx repository.Tx, p *model.Package) error {
	const q = `
INSERT INTO packages (` + packageCols + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
  name=$2, price=$3, currency=$4, practical_hours_included=$5, theoretical_classes_included=$6,
  simulations_included=$7, support_access=$8, active=$9;`

	_, err := execSQL(ctx, r.pool, tx, q, p.ID, p.Name, p.Price, p.Currency, p.PracticalHoursIncluded,
		p.TheoreticalClassesIncluded, p.SimulationsIncluded, p.SupportAccess, p.Active, p.CreatedAt)
	return mapErr("save package", err)
}

func (r *packageRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Package, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+packageCols+` FROM packages WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanPackage(row)
}

func (r *packageRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Package, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT `+packageCols+` FROM packages WHERE active ORDER BY price ASC;`)
	if err != nil {
		return nil, mapErr("list packages", err)
	}
	defer rows.Close()

	var out []*model.Package
	for rows.Next() {
		p, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
