// File: internal/infra/adapters/payment/mercadopago_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"drivepass-billing/internal/config"
	"drivepass-billing/internal/domain"
	"drivepass-billing/internal/domain/model"
	"drivepass-billing/internal/domain/ports/adapter"
)

var _ adapter.WalletGateway = (*MercadoPagoGateway)(nil)

// MercadoPagoGateway implements adapter.WalletGateway over the REST API
// (payments, merchant orders, checkout preferences).
type MercadoPagoGateway struct {
	accessToken string
	baseURL     string
	descriptor  string
	client      *http.Client
	breaker     *breaker
	logger      *zerolog.Logger
}

func NewMercadoPagoGateway(cfg config.MercadoPagoConfig, timeout time.Duration, bcfg config.BreakerConfig, logger *zerolog.Logger) (*MercadoPagoGateway, error) {
	if cfg.AccessToken == "" {
		return nil, errors.New("mercado pago access token empty")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.mercadopago.com"
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	l := logger.With().Str("component", "mercadopago_gateway").Logger()
	return &MercadoPagoGateway{
		accessToken: cfg.AccessToken,
		baseURL:     base,
		descriptor:  cfg.StatementDescriptor,
		client:      &http.Client{Timeout: timeout},
		breaker:     newBreaker(string(model.ProviderMercadoPago), bcfg, &l),
		logger:      &l,
	}, nil
}

func (g *MercadoPagoGateway) Name() model.Provider { return model.ProviderMercadoPago }

type mpPayment struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
	ExternalReference string          `json:"external_reference"`
	Metadata          map[string]any  `json:"metadata"`
	PaymentMethodID   string          `json:"payment_method_id"`
	PaymentTypeID     string          `json:"payment_type_id"`
	Installments      int             `json:"installments"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
	Order struct {
		ID json.Number `json:"id"`
	} `json:"order"`
}

// GetPayment calls GET /v1/payments/{id}.
func (g *MercadoPagoGateway) GetPayment(ctx context.Context, id string) (*adapter.ProviderPayment, error) {
	return guarded(g.breaker, "get_payment", func() (*adapter.ProviderPayment, error) {
		var out mpPayment
		if err := g.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, &out); err != nil {
			return nil, err
		}
		p := &adapter.ProviderPayment{
			Provider:       model.ProviderMercadoPago,
			ExternalID:     out.ID.String(),
			ProviderStatus: out.Status,
			Amount:         out.TransactionAmount,
			Currency:       strings.ToUpper(out.CurrencyID),
			Reference:      out.ExternalReference,
			Metadata:       stringMap(out.Metadata),
			Details: adapter.PaymentDetails{
				PayerEmail:   out.Payer.Email,
				Method:       out.PaymentMethodID,
				Installments: out.Installments,
			},
		}
		if p.ExternalID == "" {
			p.ExternalID = id
		}
		return p, nil
	})
}

// GetMerchantOrder calls GET /merchant_orders/{id}.
func (g *MercadoPagoGateway) GetMerchantOrder(ctx context.Context, id string) (*adapter.MerchantOrder, error) {
	return guarded(g.breaker, "get_merchant_order", func() (*adapter.MerchantOrder, error) {
		var out struct {
			ID                json.Number `json:"id"`
			Status            string      `json:"status"`
			ExternalReference string      `json:"external_reference"`
			Payments          []struct {
				ID     json.Number `json:"id"`
				Status string      `json:"status"`
			} `json:"payments"`
		}
		if err := g.do(ctx, http.MethodGet, "/merchant_orders/"+url.PathEscape(id), nil, &out); err != nil {
			return nil, err
		}
		mo := &adapter.MerchantOrder{
			ID:        out.ID.String(),
			Status:    out.Status,
			Reference: out.ExternalReference,
		}
		for _, p := range out.Payments {
			if p.ID.String() != "" {
				mo.PaymentIDs = append(mo.PaymentIDs, p.ID.String())
			}
		}
		return mo, nil
	})
}

// CreateCheckout calls POST /checkout/preferences and returns the init point.
func (g *MercadoPagoGateway) CreateCheckout(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	amount, _ := req.Amount.Float64()
	payload := map[string]any{
		"items": []map[string]any{{
			"id":          req.PackageID,
			"title":       req.Title,
			"description": req.Description,
			"quantity":    1,
			"currency_id": strings.ToUpper(req.Currency),
			"unit_price":  amount,
		}},
		"external_reference": req.Token,
		"back_urls": map[string]string{
			"success": req.SuccessURL,
			"failure": req.FailureURL,
			"pending": req.PendingURL,
		},
		"auto_return": "approved",
		"metadata": map[string]string{
			model.MetaUserID:    req.UserID,
			model.MetaPackageID: req.PackageID,
		},
	}
	if req.NotifyURL != "" {
		payload["notification_url"] = req.NotifyURL
	}
	if req.PayerEmail != "" {
		payload["payer"] = map[string]string{"email": req.PayerEmail}
	}
	if g.descriptor != "" {
		payload["statement_descriptor"] = g.descriptor
	}

	return guarded(g.breaker, "create_checkout", func() (*adapter.CheckoutSession, error) {
		var out struct {
			ID               string `json:"id"`
			InitPoint        string `json:"init_point"`
			SandboxInitPoint string `json:"sandbox_init_point"`
		}
		if err := g.do(ctx, http.MethodPost, "/checkout/preferences", payload, &out); err != nil {
			return nil, err
		}
		link := out.InitPoint
		if link == "" {
			link = out.SandboxInitPoint
		}
		if out.ID == "" || link == "" {
			return nil, errors.New("mercado pago preference response missing id or init_point")
		}
		return &adapter.CheckoutSession{ID: out.ID, URL: link}, nil
	})
}

func (g *MercadoPagoGateway) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("mercado pago %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("mercado pago %s: %w", path, domain.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mercado pago %s %s: http %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("mercado pago %s: decode: %w", path, err)
	}
	return nil
}

func stringMap(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}
