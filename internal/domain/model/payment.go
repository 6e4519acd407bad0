package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // created or in flight at the provider
	PaymentStatusSucceeded PaymentStatus = "succeeded" // money captured
	PaymentStatusFailed    PaymentStatus = "failed"    // rejected, cancelled or expired
	PaymentStatusRefunded  PaymentStatus = "refunded"  // refunded or charged back
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusSucceeded, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

type Provider string

const (
	ProviderStripe      Provider = "stripe"      // card / redirect provider
	ProviderMercadoPago Provider = "mercadopago" // wallet / PIX provider
)

// ParseProvider accepts the canonical names plus the public route aliases.
func ParseProvider(s string) (Provider, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stripe", "provider-a", "card":
		return ProviderStripe, true
	case "mercadopago", "mercado_pago", "provider-b", "pix", "wallet":
		return ProviderMercadoPago, true
	}
	return "", false
}

// ProviderRef is the de-duplication key of a payment at its provider.
// Stripe rows are keyed by payment intent id, Mercado Pago rows by payment id.
type ProviderRef struct {
	Provider   Provider
	ExternalID string
}

func (r ProviderRef) IsZero() bool { return r.Provider == "" || r.ExternalID == "" }

func (r ProviderRef) String() string { return string(r.Provider) + ":" + r.ExternalID }

// Payment records one monetary transaction as seen by a provider.
type Payment struct {
	ID        string // UUID
	UserID    string
	PackageID string
	Provider  Provider

	// At most the identifiers of one provider are populated.
	StripeCheckoutSessionID *string
	StripePaymentIntentID   *string
	MPPaymentID             *string
	MPPreferenceID          *string

	Amount         decimal.Decimal // major currency units
	Currency       string          // ISO 4217, upper case
	Status         PaymentStatus
	ProviderStatus string         // raw provider vocabulary, kept for reconciliation
	Metadata       map[string]any // payer, method, installments

	SucceededAt *time.Time // set once, the first time the row reaches succeeded
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Ref returns the provider key this payment is de-duplicated on.
func (p *Payment) Ref() ProviderRef {
	switch p.Provider {
	case ProviderStripe:
		if p.StripePaymentIntentID != nil {
			return ProviderRef{Provider: p.Provider, ExternalID: *p.StripePaymentIntentID}
		}
	case ProviderMercadoPago:
		if p.MPPaymentID != nil {
			return ProviderRef{Provider: p.Provider, ExternalID: *p.MPPaymentID}
		}
	}
	return ProviderRef{Provider: p.Provider}
}

// SetRef populates the identity column matching ref. It never touches the other provider's columns.
func (p *Payment) SetRef(ref ProviderRef) {
	id := ref.ExternalID
	p.Provider = ref.Provider
	switch ref.Provider {
	case ProviderStripe:
		p.StripePaymentIntentID = &id
	case ProviderMercadoPago:
		p.MPPaymentID = &id
	}
}

// stripe intent/session vocabulary
var stripeStatuses = map[string]PaymentStatus{
	"succeeded":               PaymentStatusSucceeded,
	"paid":                    PaymentStatusSucceeded,
	"no_payment_required":     PaymentStatusSucceeded,
	"processing":              PaymentStatusPending,
	"requires_payment_method": PaymentStatusPending,
	"requires_confirmation":   PaymentStatusPending,
	"requires_action":         PaymentStatusPending,
	"requires_capture":        PaymentStatusPending,
	"unpaid":                  PaymentStatusPending,
	"canceled":                PaymentStatusFailed,
	"failed":                  PaymentStatusFailed,
	"refunded":                PaymentStatusRefunded,
}

// mercado pago payment vocabulary
var mercadoPagoStatuses = map[string]PaymentStatus{
	"approved":     PaymentStatusSucceeded,
	"pending":      PaymentStatusPending,
	"in_process":   PaymentStatusPending,
	"authorized":   PaymentStatusPending,
	"in_mediation": PaymentStatusPending,
	"rejected":     PaymentStatusFailed,
	"cancelled":    PaymentStatusFailed,
	"refunded":     PaymentStatusRefunded,
	"charged_back": PaymentStatusRefunded,
}

// CanonicalStatus maps a provider status onto the four canonical states.
// Anything unmapped is pending.
func CanonicalStatus(provider Provider, providerStatus string) PaymentStatus {
	s := strings.ToLower(strings.TrimSpace(providerStatus))
	var table map[string]PaymentStatus
	switch provider {
	case ProviderStripe:
		table = stripeStatuses
	case ProviderMercadoPago:
		table = mercadoPagoStatuses
	}
	if st, ok := table[s]; ok {
		return st
	}
	return PaymentStatusPending
}
