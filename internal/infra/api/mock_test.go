//go:build !integration

package api_test

import (
	"context"

	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/usecase"
)

type MockWebhookUC struct {
	HandleCardFunc   func(ctx context.Context, payload []byte, signature string) (*usecase.Outcome, error)
	HandleWalletFunc func(ctx context.Context, n usecase.WalletNotification) (*usecase.Outcome, error)

	lastPayload []byte
	lastWallet  usecase.WalletNotification
}

func (m *MockWebhookUC) HandleCardWebhook(ctx context.Context, payload []byte, signature string) (*usecase.Outcome, error) {
	m.lastPayload = payload
	if m.HandleCardFunc != nil {
		return m.HandleCardFunc(ctx, payload, signature)
	}
	return &usecase.Outcome{}, nil
}

func (m *MockWebhookUC) HandleWalletWebhook(ctx context.Context, n usecase.WalletNotification) (*usecase.Outcome, error) {
	m.lastWallet = n
	if m.HandleWalletFunc != nil {
		return m.HandleWalletFunc(ctx, n)
	}
	return &usecase.Outcome{}, nil
}

func (m *MockWebhookUC) Refetch(ctx context.Context, ref model.ProviderRef) (*usecase.Outcome, error) {
	return &usecase.Outcome{}, nil
}

func (m *MockWebhookUC) ActivatePayment(ctx context.Context, p *model.Payment) usecase.PaymentOutcome {
	return usecase.PaymentOutcome{}
}

type MockCheckoutUC struct {
	InitiateFunc func(ctx context.Context, userID, packageID string, provider model.Provider) (*usecase.CheckoutResult, error)
}

func (m *MockCheckoutUC) Initiate(ctx context.Context, userID, packageID string, provider model.Provider) (*usecase.CheckoutResult, error) {
	return m.InitiateFunc(ctx, userID, packageID, provider)
}

type MockEntitlementUC struct {
	CurrentFunc func(ctx context.Context, userID string) (*usecase.Entitlement, error)
}

func (m *MockEntitlementUC) Activate(ctx context.Context, userID, packageID, paymentID string) (*model.UserPackage, error) {
	return nil, nil
}

func (m *MockEntitlementUC) Current(ctx context.Context, userID string) (*usecase.Entitlement, error) {
	return m.CurrentFunc(ctx, userID)
}

type MockUsageUC struct {
	TryConsumeFunc func(ctx context.Context, id string, kind model.UsageKind, amount int) (*usecase.UsageResult, error)
}

func (m *MockUsageUC) TryConsume(ctx context.Context, id string, kind model.UsageKind, amount int) (*usecase.UsageResult, error) {
	return m.TryConsumeFunc(ctx, id, kind, amount)
}
