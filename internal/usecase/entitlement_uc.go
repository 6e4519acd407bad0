package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/repository"
	"drivepass-billing/internal/infra/logging"
	"drivepass-billing/internal/infra/metrics"
)

// Compile-time check
var _ EntitlementUseCase = (*entitlementUC)(nil)

// Entitlement is the current package of a user with what is left of it.
type Entitlement struct {
	UserPackage *model.UserPackage
	Package     *model.Package
	Balance     model.Balance
}

type EntitlementUseCase interface {
	// Activate expires the user's active package and grants packageID in one transaction.
	// A second call for the same payment returns domain.ErrAlreadyActivated.
	Activate(ctx context.Context, userID, packageID, paymentID string) (*model.UserPackage, error)
	// Current returns domain.ErrNoActivePackage when the user has nothing active.
	Current(ctx context.Context, userID string) (*Entitlement, error)
}

type entitlementUC struct {
	packages     repository.PackageRepository
	userPackages repository.UserPackageRepository
	tm           repository.TransactionManager
	log          *zerolog.Logger
	now          func() time.Time
}

func NewEntitlementUseCase(packages repository.PackageRepository, userPackages repository.UserPackageRepository, tm repository.TransactionManager, logger *zerolog.Logger) *entitlementUC {
	return &entitlementUC{packages: packages, userPackages: userPackages, tm: tm, log: logger, now: time.Now}
}

func (u *entitlementUC) Activate(ctx context.Context, userID, packageID, paymentID string) (*model.UserPackage, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.Activate")()

	if userID == "" || packageID == "" || paymentID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := u.packages.FindByID(ctx, repository.NoTX, packageID); err != nil {
		metrics.IncActivationFailure("package")
		return nil, fmt.Errorf("load package %s: %w", packageID, err)
	}

	var (
		granted *model.UserPackage
		expired int64
	)
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.userPackages.LockUser(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := u.userPackages.FindByPaymentID(ctx, tx, paymentID); err == nil {
			return domain.ErrAlreadyActivated
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		now := u.now().UTC()
		n, err := u.userPackages.ExpireActive(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		expired = n

		up, err := model.NewUserPackage(uuid.NewString(), userID, packageID, paymentID, now)
		if err != nil {
			return err
		}
		if err := u.userPackages.Insert(ctx, tx, up); err != nil {
			return err
		}
		granted = up
		return nil
	})

	log := logging.With(ctx, u.log)
	switch {
	case errors.Is(err, domain.ErrAlreadyActivated):
		log.Info().Str("payment_id", paymentID).Msg("payment already activated a package")
		return nil, err
	case errors.Is(err, domain.ErrIntegrityViolation):
		metrics.IncActivationFailure("integrity")
		log.Error().Err(err).Str("user_id", userID).Str("payment_id", paymentID).Msg("activation hit the single-active constraint")
		return nil, err
	case err != nil:
		metrics.IncActivationFailure("storage")
		log.Error().Err(err).Str("user_id", userID).Str("payment_id", paymentID).Msg("activation failed")
		return nil, err
	}

	metrics.IncEntitlementActivated()
	log.Info().
		Str("user_id", userID).
		Str("package_id", packageID).
		Str("payment_id", paymentID).
		Str("user_package_id", granted.ID).
		Int64("expired", expired).
		Msg("package activated")
	return granted, nil
}

func (u *entitlementUC) Current(ctx context.Context, userID string) (*Entitlement, error) {
	defer logging.TraceDuration(u.log, "EntitlementUC.Current")()

	up, err := u.userPackages.FindActiveByUser(ctx, repository.NoTX, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNoActivePackage
	}
	if err != nil {
		return nil, err
	}
	pkg, err := u.packages.FindByID(ctx, repository.NoTX, up.PackageID)
	if err != nil {
		return nil, fmt.Errorf("load package %s: %w", up.PackageID, err)
	}
	return &Entitlement{UserPackage: up, Package: pkg, Balance: up.Remaining(pkg)}, nil
}
