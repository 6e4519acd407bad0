package adapter

import (
	"context"

	"github.com/shopspring/decimal"

	"drivepass-billing/internal/domain/model"
)

// CheckoutRequest is the provider-agnostic input for creating a hosted checkout.
type CheckoutRequest struct {
	Token       string // correlation token, echoed back by the provider
	UserID      string
	PackageID   string
	Title       string
	Amount      decimal.Decimal // major units
	Currency    string
	PayerEmail  string
	SuccessURL  string
	CancelURL   string
	FailureURL  string
	PendingURL  string
	NotifyURL   string
	Description string
}

// CheckoutSession is the result of a created checkout session / preference.
type CheckoutSession struct {
	ID  string // session id (Stripe) or preference id (Mercado Pago)
	URL string // hosted page the user is redirected to
}

// PaymentDetails holds non-identity attributes kept in Payment.Metadata.
type PaymentDetails struct {
	PayerEmail   string
	Method       string
	Installments int
}

// ProviderPayment is the authoritative state of one payment as fetched from a provider.
type ProviderPayment struct {
	Provider       model.Provider
	ExternalID     string // payment intent id / mercado pago payment id
	SessionID      string // checkout session id / preference id, when known
	ProviderStatus string
	Amount         decimal.Decimal
	Currency       string
	Reference      string            // correlation token
	Metadata       map[string]string // metadata written at checkout
	Details        PaymentDetails
}

func (p *ProviderPayment) Ref() model.ProviderRef {
	return model.ProviderRef{Provider: p.Provider, ExternalID: p.ExternalID}
}

// MerchantOrder groups several Mercado Pago payments.
type MerchantOrder struct {
	ID         string
	Status     string
	Reference  string
	PaymentIDs []string
}

// CheckoutGateway is the hex port shared by every payment provider.
type CheckoutGateway interface {
	Name() model.Provider
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// CardGateway is the Stripe-shaped provider port.
type CardGateway interface {
	CheckoutGateway
	// GetCheckoutSession resolves a session to its underlying payment.
	// ExternalID is empty while the session has no payment intent yet.
	GetCheckoutSession(ctx context.Context, id string) (*ProviderPayment, error)
	GetPaymentIntent(ctx context.Context, id string) (*ProviderPayment, error)
}

// WalletGateway is the Mercado Pago-shaped provider port.
type WalletGateway interface {
	CheckoutGateway
	GetPayment(ctx context.Context, id string) (*ProviderPayment, error)
	GetMerchantOrder(ctx context.Context, id string) (*MerchantOrder, error)
}
