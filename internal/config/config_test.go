//go:build !integration

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	p := writeConfig(t, `
database:
  url: postgres://localhost/drivepass
redis:
  url: localhost:6379
`)
	cfg, err := LoadConfig(p, true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Runtime.Env != EnvDevelopment || !cfg.Runtime.Dev {
		t.Errorf("unexpected runtime %+v", cfg.Runtime)
	}
	if cfg.Payment.GatewayTimeout != 5*time.Second {
		t.Errorf("expected 5s gateway timeout, got %s", cfg.Payment.GatewayTimeout)
	}
	if cfg.HTTP.MaxBodyBytes != 64<<10 {
		t.Errorf("expected 64KiB body cap, got %d", cfg.HTTP.MaxBodyBytes)
	}
	if cfg.Payment.Stripe.WebhookTolerance != 300*time.Second {
		t.Errorf("unexpected tolerance %s", cfg.Payment.Stripe.WebhookTolerance)
	}
	if cfg.Payment.LockWait != 5*time.Second || cfg.Payment.LockWait >= cfg.Payment.LockTTL {
		t.Errorf("unexpected lock wait %s (ttl %s)", cfg.Payment.LockWait, cfg.Payment.LockTTL)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	p := writeConfig(t, `
database:
  url: postgres://from-file
redis:
  url: localhost:6379
`)
	t.Setenv("DRIVEPASS_DATABASE_URL", "postgres://from-env")
	t.Setenv("DRIVEPASS_MP_WEBHOOK_SECRET", "mp-secret")
	cfg, err := LoadConfig(p, false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Database.URL != "postgres://from-env" {
		t.Errorf("env override not applied: %s", cfg.Database.URL)
	}
	if cfg.Payment.MercadoPago.WebhookSecret != "mp-secret" {
		t.Errorf("secret override not applied")
	}
}

func TestValidate_ProductionRequiresSecrets(t *testing.T) {
	p := writeConfig(t, `
runtime:
  env: production
database:
  url: postgres://x
redis:
  url: localhost:6379
payment:
  stripe:
    webhook_secret: whsec_1
auth:
  jwt_secret: s
  service_api_key: k
`)
	t.Setenv("DRIVEPASS_MP_WEBHOOK_SECRET", "")
	if _, err := LoadConfig(p, false); err == nil {
		t.Fatal("expected production config without wallet secret to be refused")
	}

	t.Setenv("DRIVEPASS_MP_WEBHOOK_SECRET", "mp")
	if _, err := LoadConfig(p, false); err != nil {
		t.Fatalf("expected complete production config to load, got %v", err)
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing database url to fail")
	}
	cfg.Database.URL = "postgres://x"
	cfg.Redis.URL = "r"
	cfg.Payment.DefaultProvider = "paypal"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected unknown provider to fail")
	}
}
