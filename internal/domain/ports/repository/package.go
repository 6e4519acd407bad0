package repository

import (
	"context"

	"drivepass-billing/internal/domain/model"
)

// PackageRepository is read-only for billing; Save exists for seeding.
type PackageRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Package) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Package, error)
	ListActive(ctx context.Context, tx Tx) ([]*model.Package, error)
}
