package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/repository"
	"drivepass-billing/internal/infra/logging"
	"drivepass-billing/internal/infra/metrics"
)

// Compile-time check
var _ UsageUseCase = (*usageUC)(nil)

type UsageResult struct {
	UserPackage *model.UserPackage
	Kind        model.UsageKind
	Remaining   int // for Kind; model.Unlimited when unbounded
	Balance     model.Balance
}

type UsageUseCase interface {
	// TryConsume returns domain.ErrUsageExhausted when amount does not fit.
	TryConsume(ctx context.Context, userPackageID string, kind model.UsageKind, amount int) (*UsageResult, error)
}

type usageUC struct {
	userPackages repository.UserPackageRepository
	log          *zerolog.Logger
}

func NewUsageUseCase(userPackages repository.UserPackageRepository, logger *zerolog.Logger) *usageUC {
	return &usageUC{userPackages: userPackages, log: logger}
}

func (u *usageUC) TryConsume(ctx context.Context, userPackageID string, kind model.UsageKind, amount int) (*UsageResult, error) {
	defer logging.TraceDuration(u.log, "UsageUC.TryConsume")()

	if !kind.Valid() || amount <= 0 || userPackageID == "" {
		return nil, domain.ErrInvalidArgument
	}
	up, err := u.userPackages.FindByID(ctx, repository.NoTX, userPackageID)
	if err != nil {
		metrics.IncUsageConsume(string(kind), "error")
		return nil, err
	}
	if !up.IsActive() {
		metrics.IncUsageConsume(string(kind), "inactive")
		return nil, domain.ErrNoActivePackage
	}

	// the bound is enforced by the conditional update, not by this read
	c, ok, err := u.userPackages.Consume(ctx, repository.NoTX, userPackageID, kind, amount)
	if err != nil {
		metrics.IncUsageConsume(string(kind), "error")
		return nil, err
	}
	if !ok {
		metrics.IncUsageConsume(string(kind), "exhausted")
		logging.With(ctx, u.log).Info().Str("user_package_id", userPackageID).Str("kind", string(kind)).Int("amount", amount).Msg("usage exhausted")
		return nil, domain.ErrUsageExhausted
	}
	metrics.IncUsageConsume(string(kind), "ok")
	return &UsageResult{UserPackage: c.UserPackage, Kind: kind, Remaining: remainingOf(c.Balance, kind), Balance: c.Balance}, nil
}

func remainingOf(b model.Balance, kind model.UsageKind) int {
	switch kind {
	case model.UsagePracticalHours:
		return b.PracticalHours
	case model.UsageTheoreticalClasses:
		return b.TheoreticalClasses
	default:
		return b.Simulations
	}
}
