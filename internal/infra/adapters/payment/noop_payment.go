package payment

import (
	"context"
	"fmt"
	"sync"

	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/adapter"
)

var (
	_ adapter.CardGateway   = (*NoopGateway)(nil)
	_ adapter.WalletGateway = (*NoopGateway)(nil)
)

// NoopGateway is an in-memory provider used in development and tests.
// Payments are seeded with Put; sessions map to the payment seeded under their id.
type NoopGateway struct {
	provider model.Provider

	mu       sync.Mutex
	seq      int64
	payments map[string]*adapter.ProviderPayment // external id or session id -> payment
	orders   map[string]*adapter.MerchantOrder
	created  []adapter.CheckoutRequest
}

func NewNoopGateway(provider model.Provider) *NoopGateway {
	return &NoopGateway{
		provider: provider,
		payments: make(map[string]*adapter.ProviderPayment),
		orders:   make(map[string]*adapter.MerchantOrder),
	}
}

func (g *NoopGateway) Name() model.Provider { return g.provider }

func (g *NoopGateway) next() string {
	g.seq++
	return fmt.Sprintf("noop-%d", g.seq)
}

// Put stores p under key (a payment, session or intent id).
func (g *NoopGateway) Put(key string, p *adapter.ProviderPayment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *p
	g.payments[key] = &cp
}

func (g *NoopGateway) PutMerchantOrder(mo *adapter.MerchantOrder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *mo
	g.orders[mo.ID] = &cp
}

// Created returns every checkout request seen so far.
func (g *NoopGateway) Created() []adapter.CheckoutRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]adapter.CheckoutRequest(nil), g.created...)
}

func (g *NoopGateway) CreateCheckout(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next()
	g.created = append(g.created, req)
	return &adapter.CheckoutSession{ID: id, URL: "https://example.test/pay/" + id}, nil
}

func (g *NoopGateway) get(id string) (*adapter.ProviderPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[id]
	if !ok {
		return nil, fmt.Errorf("noop %s %s: %w", g.provider, id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (g *NoopGateway) GetCheckoutSession(ctx context.Context, id string) (*adapter.ProviderPayment, error) {
	return g.get(id)
}

func (g *NoopGateway) GetPaymentIntent(ctx context.Context, id string) (*adapter.ProviderPayment, error) {
	return g.get(id)
}

func (g *NoopGateway) GetPayment(ctx context.Context, id string) (*adapter.ProviderPayment, error) {
	return g.get(id)
}

func (g *NoopGateway) GetMerchantOrder(ctx context.Context, id string) (*adapter.MerchantOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	mo, ok := g.orders[id]
	if !ok {
		return nil, fmt.Errorf("noop merchant order %s: %w", id, domain.ErrNotFound)
	}
	cp := *mo
	return &cp, nil
}
