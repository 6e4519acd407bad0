package model

// EventKind classifies an inbound provider notification.
type EventKind string

const (
	EventUnknown EventKind = "unknown"

	// Stripe
	EventCheckoutSessionCompleted      EventKind = "checkout.session.completed"
	EventCheckoutSessionAsyncSucceeded EventKind = "checkout.session.async_payment_succeeded"
	EventCheckoutSessionAsyncFailed    EventKind = "checkout.session.async_payment_failed"
	EventPaymentIntentSucceeded        EventKind = "payment_intent.succeeded"
	EventPaymentIntentFailed           EventKind = "payment_intent.payment_failed"

	// Mercado Pago
	EventWalletPayment       EventKind = "payment"
	EventWalletMerchantOrder EventKind = "merchant_order"
)

// ProviderEvent is either a CardEvent or a WalletEvent.
type ProviderEvent interface {
	Provider() Provider
	EventKind() EventKind
	ResourceID() string
	sealed()
}

// CardEvent is a verified Stripe event.
type CardEvent struct {
	EventID  string
	Kind     EventKind
	RawType  string
	ObjectID string // checkout session or payment intent id
}

func (CardEvent) Provider() Provider     { return ProviderStripe }
func (e CardEvent) EventKind() EventKind { return e.Kind }
func (e CardEvent) ResourceID() string   { return e.ObjectID }
func (CardEvent) sealed()                {}

// IsSession reports whether the event object is a checkout session.
func (e CardEvent) IsSession() bool {
	switch e.Kind {
	case EventCheckoutSessionCompleted, EventCheckoutSessionAsyncSucceeded, EventCheckoutSessionAsyncFailed:
		return true
	}
	return false
}

// CardEventKind maps a Stripe event type.
func CardEventKind(eventType string) EventKind {
	switch k := EventKind(eventType); k {
	case EventCheckoutSessionCompleted, EventCheckoutSessionAsyncSucceeded, EventCheckoutSessionAsyncFailed,
		EventPaymentIntentSucceeded, EventPaymentIntentFailed:
		return k
	}
	return EventUnknown
}

// WalletEvent is a Mercado Pago notification ("something changed, go fetch it").
type WalletEvent struct {
	Kind    EventKind
	RawType string
	Action  string
	ID      string
}

func (WalletEvent) Provider() Provider     { return ProviderMercadoPago }
func (e WalletEvent) EventKind() EventKind { return e.Kind }
func (e WalletEvent) ResourceID() string   { return e.ID }
func (WalletEvent) sealed()                {}

// WalletEventKind maps a Mercado Pago notification type/topic.
func WalletEventKind(t string) EventKind {
	switch t {
	case "payment":
		return EventWalletPayment
	case "merchant_order", "topic_merchant_order_wh":
		return EventWalletMerchantOrder
	}
	return EventUnknown
}
