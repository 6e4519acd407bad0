package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/adapter"
	"drivepass-billing/internal/domain/ports/repository"
	"drivepass-billing/internal/infra/logging"
	"drivepass-billing/internal/infra/metrics"
	red "drivepass-billing/internal/infra/redis"
)

// Compile-time check
var _ CheckoutUseCase = (*checkoutUC)(nil)

// RateLimiter is satisfied by redis.RateLimiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Public notification routes, one per provider.
const (
	CardWebhookPath   = "/webhook/provider-a"
	WalletWebhookPath = "/webhook/provider-b"
)

// CheckoutSettings carries the redirect and limit settings of hosted checkouts.
type CheckoutSettings struct {
	DefaultProvider model.Provider
	PublicURL       string
	SuccessPath     string
	CancelPath      string
	FailurePath     string
	PendingPath     string
	RateLimit       int // per user per window; 0 disables
	RateWindow      time.Duration
}

func (s CheckoutSettings) url(path string) string {
	return strings.TrimRight(s.PublicURL, "/") + path
}

type CheckoutResult struct {
	URL          string
	PreferenceID string // checkout session or preference id
	Provider     model.Provider
	Token        string
}

type CheckoutUseCase interface {
	// Initiate creates a hosted checkout. It writes nothing to the ledger.
	Initiate(ctx context.Context, userID, packageID string, provider model.Provider) (*CheckoutResult, error)
}

type checkoutUC struct {
	packages repository.PackageRepository
	gateways map[model.Provider]adapter.CheckoutGateway
	limiter  RateLimiter
	settings CheckoutSettings
	log      *zerolog.Logger
	now      func() time.Time
}

// NewCheckoutUseCase accepts a nil limiter.
func NewCheckoutUseCase(packages repository.PackageRepository, gateways []adapter.CheckoutGateway, limiter RateLimiter, settings CheckoutSettings, logger *zerolog.Logger) *checkoutUC {
	byName := make(map[model.Provider]adapter.CheckoutGateway, len(gateways))
	for _, g := range gateways {
		byName[g.Name()] = g
	}
	if settings.RateWindow <= 0 {
		settings.RateWindow = time.Minute
	}
	return &checkoutUC{packages: packages, gateways: byName, limiter: limiter, settings: settings, log: logger, now: time.Now}
}

func (u *checkoutUC) Initiate(ctx context.Context, userID, packageID string, provider model.Provider) (*CheckoutResult, error) {
	defer logging.TraceDuration(u.log, "CheckoutUC.Initiate")()
	log := logging.With(ctx, u.log)

	if provider == "" {
		provider = u.settings.DefaultProvider
	}
	gw, ok := u.gateways[provider]
	if !ok {
		metrics.IncCheckout(string(provider), "unknown_provider")
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, provider)
	}

	if u.limiter != nil && u.settings.RateLimit > 0 {
		allowed, err := u.limiter.Allow(ctx, red.UserActionKey(userID, "checkout"), u.settings.RateLimit, u.settings.RateWindow)
		if err != nil {
			log.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !allowed {
			metrics.IncRateLimitTriggered()
			metrics.IncCheckout(string(provider), "rate_limited")
			return nil, domain.ErrRateLimited
		}
	}

	pkg, err := u.packages.FindByID(ctx, repository.NoTX, packageID)
	if err != nil {
		metrics.IncCheckout(string(provider), "package")
		return nil, err
	}
	if !pkg.Active {
		metrics.IncCheckout(string(provider), "package")
		return nil, fmt.Errorf("%w: package %s is not on sale", domain.ErrNotFound, packageID)
	}

	token, err := model.NewCorrelationToken(userID, pkg.ID, u.now())
	if err != nil {
		metrics.IncCheckout(string(provider), "invalid")
		return nil, err
	}

	notify := WalletWebhookPath
	if provider == model.ProviderStripe {
		notify = CardWebhookPath
	}
	sess, err := gw.CreateCheckout(ctx, adapter.CheckoutRequest{
		Token:       token,
		UserID:      userID,
		PackageID:   pkg.ID,
		Title:       pkg.Name,
		Amount:      pkg.Price,
		Currency:    pkg.Currency,
		SuccessURL:  u.settings.url(u.settings.SuccessPath),
		CancelURL:   u.settings.url(u.settings.CancelPath),
		FailureURL:  u.settings.url(u.settings.FailurePath),
		PendingURL:  u.settings.url(u.settings.PendingPath),
		NotifyURL:   u.settings.url(notify),
		Description: pkg.Name,
	})
	if err != nil {
		metrics.IncCheckout(string(provider), "gateway_error")
		log.Error().Err(err).Str("package_id", pkg.ID).Str("provider", string(provider)).Msg("checkout creation failed")
		return nil, err
	}

	metrics.IncCheckout(string(provider), "ok")
	log.Info().Str("package_id", pkg.ID).Str("provider", string(provider)).Str("session_id", sess.ID).Msg("checkout created")
	return &CheckoutResult{URL: sess.URL, PreferenceID: sess.ID, Provider: provider, Token: token}, nil
}
