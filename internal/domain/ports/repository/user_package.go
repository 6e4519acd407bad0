package repository

import (
	"context"
	"time"

	"drivepass-billing/internal/domain/model"
)

// -----------------------------
// User packages
// -----------------------------

type UserPackageRepository interface {
	// LockUser serializes entitlement changes of one user until tx ends.
	LockUser(ctx context.Context, tx Tx, userID string) error
	// ExpireActive marks every active row of the user expired and returns how many changed.
	ExpireActive(ctx context.Context, tx Tx, userID string, at time.Time) (int64, error)
	// Insert maps unique violations to domain.ErrAlreadyActivated (payment_id)
	// and domain.ErrIntegrityViolation (single active row per user).
	Insert(ctx context.Context, tx Tx, up *model.UserPackage) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.UserPackage, error)
	FindByPaymentID(ctx context.Context, tx Tx, paymentID string) (*model.UserPackage, error)
	FindActiveByUser(ctx context.Context, tx Tx, userID string) (*model.UserPackage, error)
	// Consume applies amount when the bound allows it and returns the balance read in the
	// same statement. ok is false when nothing was updated.
	Consume(ctx context.Context, tx Tx, id string, kind model.UsageKind, amount int) (c *model.Consumption, ok bool, err error)
	CountUsersWithMultipleActive(ctx context.Context, tx Tx) (int, error)
}
