// File: internal/infra/adapters/payment/stripe_gateway.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"drivepass-billing/internal/config"
	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/adapter"
)

var _ adapter.CardGateway = (*StripeGateway)(nil)

// MetaCorrelationToken carries the correlation token on the payment intent,
// which has no client_reference_id of its own.
const MetaCorrelationToken = "correlation_token"

// StripeGateway implements adapter.CardGateway with Checkout Sessions.
type StripeGateway struct {
	sc      *client.API
	breaker *breaker
	logger  *zerolog.Logger
}

func NewStripeGateway(cfg config.StripeConfig, timeout time.Duration, bcfg config.BreakerConfig, logger *zerolog.Logger) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key empty")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	l := logger.With().Str("component", "stripe_gateway").Logger()

	bc := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.BaseURL != "" {
		bc.URL = stripe.String(cfg.BaseURL)
	}
	sc := client.New(cfg.SecretKey, &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, bc),
	})

	return &StripeGateway{
		sc:      sc,
		breaker: newBreaker(string(model.ProviderStripe), bcfg, &l),
		logger:  &l,
	}, nil
}

func (g *StripeGateway) Name() model.Provider { return model.ProviderStripe }

// CreateCheckout opens a one-off payment session for a package.
func (g *StripeGateway) CreateCheckout(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	currency := strings.ToLower(req.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.Token),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(toMinorUnits(req.Amount, currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Title),
				},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{
				model.MetaUserID:     req.UserID,
				model.MetaPackageID:  req.PackageID,
				MetaCorrelationToken: req.Token,
			},
		},
	}
	if req.PayerEmail != "" {
		params.CustomerEmail = stripe.String(req.PayerEmail)
	}
	params.Context = ctx
	params.AddMetadata(model.MetaUserID, req.UserID)
	params.AddMetadata(model.MetaPackageID, req.PackageID)

	return guarded(g.breaker, "create_checkout", func() (*adapter.CheckoutSession, error) {
		s, err := g.sc.CheckoutSessions.New(params)
		if err != nil {
			return nil, mapStripeErr("create checkout session", err)
		}
		return &adapter.CheckoutSession{ID: s.ID, URL: s.URL}, nil
	})
}

// GetCheckoutSession fetches a session with its payment intent expanded.
func (g *StripeGateway) GetCheckoutSession(ctx context.Context, id string) (*adapter.ProviderPayment, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	return guarded(g.breaker, "get_checkout_session", func() (*adapter.ProviderPayment, error) {
		s, err := g.sc.CheckoutSessions.Get(id, params)
		if err != nil {
			return nil, mapStripeErr("get checkout session", err)
		}
		return sessionToPayment(s), nil
	})
}

func (g *StripeGateway) GetPaymentIntent(ctx context.Context, id string) (*adapter.ProviderPayment, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	return guarded(g.breaker, "get_payment_intent", func() (*adapter.ProviderPayment, error) {
		pi, err := g.sc.PaymentIntents.Get(id, params)
		if err != nil {
			return nil, mapStripeErr("get payment intent", err)
		}
		return intentToPayment(pi), nil
	})
}

func sessionToPayment(s *stripe.CheckoutSession) *adapter.ProviderPayment {
	out := &adapter.ProviderPayment{
		Provider:       model.ProviderStripe,
		SessionID:      s.ID,
		ProviderStatus: string(s.PaymentStatus),
		Amount:         fromMinorUnits(s.AmountTotal, string(s.Currency)),
		Currency:       strings.ToUpper(string(s.Currency)),
		Reference:      s.ClientReferenceID,
		Metadata:       s.Metadata,
	}
	if s.CustomerDetails != nil {
		out.Details.PayerEmail = s.CustomerDetails.Email
	}
	if pi := s.PaymentIntent; pi != nil {
		out.ExternalID = pi.ID
		if pi.Status != "" {
			out.ProviderStatus = string(pi.Status)
		}
		if len(pi.PaymentMethodTypes) > 0 {
			out.Details.Method = pi.PaymentMethodTypes[0]
		}
	}
	return out
}

func intentToPayment(pi *stripe.PaymentIntent) *adapter.ProviderPayment {
	out := &adapter.ProviderPayment{
		Provider:       model.ProviderStripe,
		ExternalID:     pi.ID,
		ProviderStatus: string(pi.Status),
		Amount:         fromMinorUnits(pi.Amount, string(pi.Currency)),
		Currency:       strings.ToUpper(string(pi.Currency)),
		Metadata:       pi.Metadata,
	}
	if pi.Metadata != nil {
		out.Reference = pi.Metadata[MetaCorrelationToken]
	}
	out.Details.PayerEmail = pi.ReceiptEmail
	if len(pi.PaymentMethodTypes) > 0 {
		out.Details.Method = pi.PaymentMethodTypes[0]
	}
	return out
}

func mapStripeErr(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("stripe %s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}

// zeroDecimal lists currencies Stripe amounts without a minor unit.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

func fromMinorUnits(amount int64, currency string) decimal.Decimal {
	if zeroDecimal[strings.ToLower(currency)] {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}

func toMinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}
