package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"drivepass-billing/internal/infra/i18n"
	"drivepass-billing/internal/usecase"
)

const (
	defaultMaxBody = 64 << 10
	defaultTimeout = 15 * time.Second
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps wires the HTTP surface. Health may be nil.
type Deps struct {
	Webhooks       usecase.WebhookUseCase
	Checkout       usecase.CheckoutUseCase
	Entitlements   usecase.EntitlementUseCase
	Usage          usecase.UsageUseCase
	Auth           *Authenticator
	ServiceAPIKey  string
	Locales        *i18n.Bundle
	Health         HealthCheck
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

type Server struct {
	Deps
	log *zerolog.Logger
}

func NewServer(deps Deps, logger *zerolog.Logger) *Server {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBody
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = defaultTimeout
	}
	if deps.Auth == nil {
		deps.Auth = NewAuthenticator("", "")
	}
	return &Server{Deps: deps, log: logger}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log), Timeout(s.RequestTimeout), BodyLimit(s.MaxBodyBytes))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post(usecase.CardWebhookPath, s.handleCardWebhook)
	r.Post(usecase.WalletWebhookPath, s.handleWalletWebhook)

	r.Route("/payment", func(r chi.Router) {
		r.Get("/return/{result}", s.handleReturn)
		r.Group(func(r chi.Router) {
			r.Use(UserAuth(s.Auth))
			r.Post("/checkout", s.handleCheckout)
			r.Get("/entitlement", s.handleEntitlement)
		})
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(ServiceKey(s.ServiceAPIKey, s.log))
		r.Post("/user-packages/{id}/consume", s.handleConsume)
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Health != nil {
		if err := s.Health(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			writeError(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
