//go:build !integration

package model

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"drivepass-billing/internal/domain"
)

// --- Correlation token tests ---

func TestCorrelationToken(t *testing.T) {
	t.Run("should parse the documented example", func(t *testing.T) {
		c, err := ParseCorrelationToken("u123_p456_1700000000000")
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if c.UserID != "u123" || c.PackageID != "p456" {
			t.Errorf("expected (u123, p456), got (%s, %s)", c.UserID, c.PackageID)
		}
	})

	t.Run("should fail without separator instead of panicking", func(t *testing.T) {
		_, err := ParseCorrelationToken("u123p4561700000000000")
		if !errors.Is(err, domain.ErrMalformedCorrelation) {
			t.Fatalf("expected ErrMalformedCorrelation, got %v", err)
		}
	})

	t.Run("should fail on empty segments", func(t *testing.T) {
		for _, tok := range []string{"", "_", "_p1_1", "u1__1"} {
			if _, err := ParseCorrelationToken(tok); !errors.Is(err, domain.ErrMalformedCorrelation) {
				t.Errorf("token %q: expected ErrMalformedCorrelation, got %v", tok, err)
			}
		}
	})

	t.Run("mint then parse round-trips", func(t *testing.T) {
		at := time.UnixMilli(1700000000000)
		tok, err := NewCorrelationToken("u1", "p1", at)
		if err != nil {
			t.Fatalf("mint failed: %v", err)
		}
		if tok != "u1_p1_1700000000000" {
			t.Errorf("unexpected token %q", tok)
		}
		c, err := ParseCorrelationToken(tok)
		if err != nil || c.UserID != "u1" || c.PackageID != "p1" {
			t.Errorf("round-trip failed: %+v, %v", c, err)
		}
	})

	t.Run("mint refuses identifiers containing the separator", func(t *testing.T) {
		if _, err := NewCorrelationToken("user_1", "p1", time.Now()); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
		if _, err := NewCorrelationToken("u1", "", time.Now()); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for empty package, got %v", err)
		}
	})

	t.Run("resolve falls back to metadata", func(t *testing.T) {
		c, err := ResolveCorrelation("garbage", map[string]string{MetaUserID: "u9", MetaPackageID: "p9"})
		if err != nil {
			t.Fatalf("expected metadata fallback, got %v", err)
		}
		if c.UserID != "u9" || c.PackageID != "p9" {
			t.Errorf("unexpected correlation %+v", c)
		}
		if _, err := ResolveCorrelation("", nil); !errors.Is(err, domain.ErrMalformedCorrelation) {
			t.Errorf("expected ErrMalformedCorrelation, got %v", err)
		}
	})
}

// --- Status mapping tests ---

func TestCanonicalStatus(t *testing.T) {
	cases := []struct {
		provider Provider
		in       string
		want     PaymentStatus
	}{
		{ProviderMercadoPago, "approved", PaymentStatusSucceeded},
		{ProviderMercadoPago, "in_process", PaymentStatusPending},
		{ProviderMercadoPago, "rejected", PaymentStatusFailed},
		{ProviderMercadoPago, "charged_back", PaymentStatusRefunded},
		{ProviderMercadoPago, "something_new", PaymentStatusPending},
		{ProviderStripe, "succeeded", PaymentStatusSucceeded},
		{ProviderStripe, "paid", PaymentStatusSucceeded},
		{ProviderStripe, "canceled", PaymentStatusFailed},
		{ProviderStripe, "requires_action", PaymentStatusPending},
		{ProviderStripe, "", PaymentStatusPending},
		{Provider("other"), "approved", PaymentStatusPending},
	}
	for _, c := range cases {
		if got := CanonicalStatus(c.provider, c.in); got != c.want {
			t.Errorf("CanonicalStatus(%s, %q) = %s, want %s", c.provider, c.in, got, c.want)
		}
	}
}

func TestPaymentRef(t *testing.T) {
	p := &Payment{}
	p.SetRef(ProviderRef{Provider: ProviderMercadoPago, ExternalID: "pay-1"})
	if p.MPPaymentID == nil || *p.MPPaymentID != "pay-1" {
		t.Fatal("expected mercado pago id to be set")
	}
	if p.StripePaymentIntentID != nil {
		t.Error("stripe id must stay empty for a mercado pago payment")
	}
	if got := p.Ref(); got.ExternalID != "pay-1" || got.Provider != ProviderMercadoPago {
		t.Errorf("unexpected ref %v", got)
	}
}

// --- Package / UserPackage tests ---

func TestNewPackage(t *testing.T) {
	t.Run("should create a package", func(t *testing.T) {
		p, err := NewPackage("p1", "Basic", decimal.RequireFromString("197.00"), "brl", 10, 20, Unlimited, true)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if p.Currency != "BRL" {
			t.Errorf("expected currency to be upper-cased, got %s", p.Currency)
		}
		if !p.Active {
			t.Error("expected new package to be active")
		}
	})

	t.Run("should reject bad input", func(t *testing.T) {
		if _, err := NewPackage("p1", "Basic", decimal.Zero, "BRL", 1, 1, 1, false); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for zero price, got %v", err)
		}
		if _, err := NewPackage("p1", "Basic", decimal.NewFromInt(1), "BRL", -2, 1, 1, false); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for negative quantity, got %v", err)
		}
	})
}

func TestUserPackageUsage(t *testing.T) {
	pkg := &Package{ID: "p1", PracticalHoursIncluded: 2, TheoreticalClassesIncluded: 0, SimulationsIncluded: Unlimited}
	up, err := NewUserPackage("up1", "u1", "p1", "pay1", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !up.IsActive() {
		t.Fatal("expected new user package to be active")
	}

	if !up.CanConsume(pkg, UsagePracticalHours, 2) {
		t.Error("expected 2 hours to fit")
	}
	up.Consume(UsagePracticalHours, 2)
	if up.CanConsume(pkg, UsagePracticalHours, 1) {
		t.Error("expected hours to be exhausted")
	}
	if up.CanConsume(pkg, UsageTheoreticalClasses, 1) {
		t.Error("expected zero included classes to refuse consumption")
	}
	if !up.CanConsume(pkg, UsageSimulations, 1000) {
		t.Error("expected unlimited simulations")
	}

	bal := up.Remaining(pkg)
	if bal.PracticalHours != 0 || bal.Simulations != Unlimited {
		t.Errorf("unexpected balance %+v", bal)
	}

	if _, err := NewUserPackage("", "u1", "p1", "pay1", time.Now()); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestEventKinds(t *testing.T) {
	if CardEventKind("payment_intent.succeeded") != EventPaymentIntentSucceeded {
		t.Error("payment_intent.succeeded not classified")
	}
	if CardEventKind("customer.created") != EventUnknown {
		t.Error("unrelated stripe events must be unknown")
	}
	if WalletEventKind("topic_merchant_order_wh") != EventWalletMerchantOrder {
		t.Error("merchant order alias not classified")
	}
	if !strings.HasPrefix(string(EventCheckoutSessionCompleted), "checkout.session") {
		t.Error("unexpected session kind")
	}
	var ev ProviderEvent = CardEvent{Kind: EventCheckoutSessionCompleted, ObjectID: "cs_1"}
	if ev.Provider() != ProviderStripe || ev.ResourceID() != "cs_1" {
		t.Errorf("unexpected card event %+v", ev)
	}
}
