package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"drivepass-billing/internal/config"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/adapter"
	"drivepass-billing/internal/domain/ports/repository"
	notifyAdapters "drivepass-billing/internal/infra/adapters/notify"
	payAdapters "drivepass-billing/internal/infra/adapters/payment"
	tele "drivepass-billing/internal/infra/adapters/telegram"
	pg "drivepass-billing/internal/infra/db/postgres"
	"drivepass-billing/internal/infra/logging"
	red "drivepass-billing/internal/infra/redis"
	"drivepass-billing/internal/infra/signature"
	"drivepass-billing/internal/usecase"
)

const lockPoll = 100 * time.Millisecond

// app holds the shared infrastructure every subcommand needs.
type app struct {
	cfg   *config.Config
	log   *zerolog.Logger
	db    *pgxpool.Pool
	redis *red.Client

	tm           *pg.TxManager
	payments     repository.PaymentRepository
	userPackages repository.UserPackageRepository
	packages     repository.PackageRepository

	card   adapter.CardGateway
	wallet adapter.WalletGateway
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.LoadConfig(opts.configPath, opts.dev)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}

	db, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	a := &app{
		cfg:          cfg,
		log:          logger,
		db:           db,
		redis:        redisClient,
		tm:           pg.NewTxManager(db),
		payments:     pg.NewPaymentRepo(db),
		userPackages: pg.NewUserPackageRepo(db),
		packages:     pg.NewPackageRepoCacheDecorator(pg.NewPackageRepo(db), redisClient, cfg.Redis.TTL, logger),
	}
	if err := a.buildGateways(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// buildGateways falls back to in-memory gateways in development when credentials are missing.
func (a *app) buildGateways() error {
	p := a.cfg.Payment
	if p.Stripe.SecretKey != "" {
		gw, err := payAdapters.NewStripeGateway(p.Stripe, p.GatewayTimeout, a.cfg.Breaker, a.log)
		if err != nil {
			return fmt.Errorf("stripe gateway: %w", err)
		}
		a.card = gw
	} else if a.cfg.IsProduction() {
		return fmt.Errorf("payment.stripe.secret_key is required in production")
	} else {
		a.log.Warn().Msg("stripe is not configured, using the in-memory gateway")
		a.card = payAdapters.NewNoopGateway(model.ProviderStripe)
	}

	if p.MercadoPago.AccessToken != "" {
		gw, err := payAdapters.NewMercadoPagoGateway(p.MercadoPago, p.GatewayTimeout, a.cfg.Breaker, a.log)
		if err != nil {
			return fmt.Errorf("mercado pago gateway: %w", err)
		}
		a.wallet = gw
	} else if a.cfg.IsProduction() {
		return fmt.Errorf("payment.mercadopago.access_token is required in production")
	} else {
		a.log.Warn().Msg("mercado pago is not configured, using the in-memory gateway")
		a.wallet = payAdapters.NewNoopGateway(model.ProviderMercadoPago)
	}
	return nil
}

func (a *app) ledger() usecase.LedgerUseCase {
	return usecase.NewLedgerUseCase(a.payments, a.tm, a.log)
}

func (a *app) entitlements() usecase.EntitlementUseCase {
	return usecase.NewEntitlementUseCase(a.packages, a.userPackages, a.tm, a.log)
}

// webhooks builds the dispatcher. pool and publisher may be nil.
func (a *app) webhooks(pool usecase.TaskSubmitter, publisher adapter.EventPublisher) usecase.WebhookUseCase {
	p := a.cfg.Payment
	return usecase.NewWebhookUseCase(usecase.WebhookDeps{
		Card:         signature.NewCardVerifier(p.Stripe.WebhookSecret, p.Stripe.WebhookTolerance),
		Wallet:       signature.NewWalletVerifier(p.MercadoPago.WebhookSecret, p.MercadoPago.SignatureTolerance),
		CardGW:       a.card,
		WalletGW:     a.wallet,
		Ledger:       a.ledger(),
		Entitlements: a.entitlements(),
		Locker:       red.NewLocker(a.redis, int(p.LockWait/lockPoll)+1, lockPoll),
		LockTTL:      p.LockTTL,
		Pool:         pool,
		Publisher:    publisher,
	}, a.log)
}

func (a *app) publisher() (adapter.EventPublisher, error) {
	if a.cfg.AMQP.URL == "" {
		a.log.Info().Msg("amqp is not configured, activation events are only logged")
		return notifyAdapters.NewNoopPublisher(a.log), nil
	}
	pub, err := notifyAdapters.NewAMQPPublisher(a.cfg.AMQP, a.log)
	if err != nil {
		return nil, err
	}
	return pub, nil
}

func (a *app) alerter() adapter.OpsAlerter {
	if a.cfg.Alert.TelegramToken == "" {
		return tele.NewLogAlerter(a.log)
	}
	al, err := tele.NewBotAlerter(a.cfg.Alert, a.cfg.Runtime.Env, a.log)
	if err != nil {
		a.log.Error().Err(err).Msg("telegram alerts unavailable, falling back to logs")
		return tele.NewLogAlerter(a.log)
	}
	return al
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
