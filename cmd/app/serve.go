package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/adapter"
	"drivepass-billing/internal/infra/api"
	pg "drivepass-billing/internal/infra/db/postgres"
	"drivepass-billing/internal/infra/i18n"
	"drivepass-billing/internal/infra/logging"
	"drivepass-billing/internal/infra/metrics"
	red "drivepass-billing/internal/infra/redis"
	"drivepass-billing/internal/infra/sched"
	"drivepass-billing/internal/infra/worker"
	"drivepass-billing/internal/usecase"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var noSchedulers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and checkout HTTP server with background reconcilers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, !noSchedulers)
		},
	}
	cmd.Flags().BoolVar(&noSchedulers, "no-schedulers", false, "disable the reconciler and integrity workers")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, schedulers bool) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.log

	metrics.MustRegister()
	metrics.SetBuildInfo(Version, Commit)
	logger.Info().
		Str("env", cfg.Runtime.Env).
		Str("database", logging.Redact(cfg.Database.URL, cfg.Runtime.Dev)).
		Str("version", Version).
		Msg("starting drivepass-billing")

	publisher, err := a.publisher()
	if err != nil {
		return fmt.Errorf("amqp: %w", err)
	}
	defer func() { _ = publisher.Close() }()

	// detached from the signal so Stop drains queued publishes before the publisher closes
	pool := worker.NewPool(cfg.Worker.Size, cfg.Worker.Queue, logger)
	pool.Start(context.WithoutCancel(ctx))
	defer pool.Stop()

	webhooks := a.webhooks(pool, publisher)
	defaultProvider, ok := model.ParseProvider(cfg.Payment.DefaultProvider)
	if !ok {
		return fmt.Errorf("payment.default_provider %q is not a known provider", cfg.Payment.DefaultProvider)
	}
	checkout := usecase.NewCheckoutUseCase(a.packages, []adapter.CheckoutGateway{a.card, a.wallet}, red.NewRateLimiter(a.redis), usecase.CheckoutSettings{
		DefaultProvider: defaultProvider,
		PublicURL:       cfg.HTTP.PublicURL,
		SuccessPath:     cfg.Payment.SuccessPath,
		CancelPath:      cfg.Payment.CancelPath,
		FailurePath:     cfg.Payment.FailurePath,
		PendingPath:     cfg.Payment.PendingPath,
		RateLimit:       cfg.RateLimit.CheckoutPerWindow,
		RateWindow:      cfg.RateLimit.Window,
	}, logger)

	locales, err := i18n.LoadBundle(i18n.LocalesFS, "pt-BR", "en")
	if err != nil {
		return fmt.Errorf("locales: %w", err)
	}

	srv := api.NewServer(api.Deps{
		Webhooks:      webhooks,
		Checkout:      checkout,
		Entitlements:  a.entitlements(),
		Usage:         usecase.NewUsageUseCase(a.userPackages, logger),
		Auth:          api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer),
		ServiceAPIKey: cfg.Auth.ServiceAPIKey,
		Locales:       locales,
		Health: func(ctx context.Context) error {
			if err := a.db.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if err := a.redis.Ping(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	}, logger)

	var wg sync.WaitGroup
	background := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Str("worker", name).Msg("background worker stopped")
			}
		}()
	}

	go pg.ReportPoolStats(ctx, a.db, 15*time.Second)
	if schedulers {
		sc := cfg.Scheduler
		reconciler := sched.NewPaymentReconciler(webhooks, a.payments, sc.ReconcileInterval, sc.StaleAfter, sc.BatchSize, logger)
		integrity := sched.NewIntegrityWorker(sc.IntegrityInterval, a.userPackages, a.alerter(), logger)
		background("reconciler", reconciler.Run)
		background("integrity", integrity.Run)
	}

	err = srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.HTTP.Port))
	cause := context.Cause(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("http server failed")
	}
	wg.Wait()
	logger.Info().AnErr("cause", cause).Msg("shutdown complete")
	return err
}
