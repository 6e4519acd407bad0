// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type RuntimeConfig struct {
	Env string `yaml:"env"` // development|production
	Dev bool   `yaml:"-"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	PublicURL      string        `yaml:"public_url"` // base for redirect and notification URLs
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // package cache TTL
}

type StripeConfig struct {
	SecretKey        string        `yaml:"secret_key"`
	WebhookSecret    string        `yaml:"webhook_secret"`
	WebhookTolerance time.Duration `yaml:"webhook_tolerance"`
	BaseURL          string        `yaml:"base_url"` // override for tests / stripe-mock
}

type MercadoPagoConfig struct {
	AccessToken         string        `yaml:"access_token"`
	WebhookSecret       string        `yaml:"webhook_secret"`
	SignatureTolerance  time.Duration `yaml:"signature_tolerance"`
	BaseURL             string        `yaml:"base_url"`
	StatementDescriptor string        `yaml:"statement_descriptor"`
}

type PaymentConfig struct {
	DefaultProvider string            `yaml:"default_provider"`
	GatewayTimeout  time.Duration     `yaml:"gateway_timeout"`
	SuccessPath     string            `yaml:"success_path"`
	CancelPath      string            `yaml:"cancel_path"`
	FailurePath     string            `yaml:"failure_path"`
	PendingPath     string            `yaml:"pending_path"`
	LockTTL         time.Duration     `yaml:"lock_ttl"`  // in-flight webhook lock
	LockWait        time.Duration     `yaml:"lock_wait"` // how long a delivery waits for the holder
	Stripe          StripeConfig      `yaml:"stripe"`
	MercadoPago     MercadoPagoConfig `yaml:"mercadopago"`
}

type BreakerConfig struct {
	MaxRequests      uint32        `yaml:"max_requests"` // half-open probes
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"` // open -> half-open
	FailureThreshold uint32        `yaml:"failure_threshold"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"` // shared with the identity provider
	JWTIssuer     string `yaml:"jwt_issuer"`
	ServiceAPIKey string `yaml:"service_api_key"` // internal callers (usage counters)
}

type RateLimitConfig struct {
	CheckoutPerWindow int           `yaml:"checkout_per_window"`
	Window            time.Duration `yaml:"window"`
}

type SchedulerConfig struct {
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	BatchSize         int           `yaml:"batch_size"`
	IntegrityInterval time.Duration `yaml:"integrity_interval"`
}

type WorkerConfig struct {
	Size  int `yaml:"size"`
	Queue int `yaml:"queue"`
}

type AMQPConfig struct {
	URL        string `yaml:"url"` // empty disables publishing
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

type AlertConfig struct {
	TelegramToken string `yaml:"telegram_token"`
	ChatID        int64  `yaml:"chat_id"`
}

type Config struct {
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Payment   PaymentConfig   `yaml:"payment"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Worker    WorkerConfig    `yaml:"worker"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Alert     AlertConfig     `yaml:"alert"`
}

// IsProduction reports whether the runtime refuses insecure settings.
func (c *Config) IsProduction() bool { return c.Runtime.Env == EnvProduction }

// LoadConfig reads the YAML file at path (optional when empty), applies
// DRIVEPASS_* environment overrides (a .env file is loaded if present),
// fills defaults and validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	setStr(&cfg.Runtime.Env, "DRIVEPASS_ENV")
	setStr(&cfg.Database.URL, "DRIVEPASS_DATABASE_URL")
	setStr(&cfg.Redis.URL, "DRIVEPASS_REDIS_URL")
	setStr(&cfg.Redis.Password, "DRIVEPASS_REDIS_PASSWORD")
	setStr(&cfg.HTTP.PublicURL, "DRIVEPASS_PUBLIC_URL")
	setInt(&cfg.HTTP.Port, "DRIVEPASS_HTTP_PORT")
	setStr(&cfg.Payment.DefaultProvider, "DRIVEPASS_DEFAULT_PROVIDER")
	setStr(&cfg.Payment.Stripe.SecretKey, "DRIVEPASS_STRIPE_SECRET_KEY")
	setStr(&cfg.Payment.Stripe.WebhookSecret, "DRIVEPASS_STRIPE_WEBHOOK_SECRET")
	setStr(&cfg.Payment.MercadoPago.AccessToken, "DRIVEPASS_MP_ACCESS_TOKEN")
	setStr(&cfg.Payment.MercadoPago.WebhookSecret, "DRIVEPASS_MP_WEBHOOK_SECRET")
	setStr(&cfg.Auth.JWTSecret, "DRIVEPASS_JWT_SECRET")
	setStr(&cfg.Auth.ServiceAPIKey, "DRIVEPASS_SERVICE_API_KEY")
	setStr(&cfg.AMQP.URL, "DRIVEPASS_AMQP_URL")
	setStr(&cfg.Alert.TelegramToken, "DRIVEPASS_ALERT_TELEGRAM_TOKEN")
	setStr(&cfg.Log.Level, "DRIVEPASS_LOG_LEVEL")
}

func applyDefaults(cfg *Config) {
	if cfg.Runtime.Env == "" {
		cfg.Runtime.Env = EnvDevelopment
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 15 * time.Second
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = 64 << 10
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	p := &cfg.Payment
	if p.DefaultProvider == "" {
		p.DefaultProvider = "stripe"
	}
	if p.GatewayTimeout <= 0 {
		p.GatewayTimeout = 5 * time.Second
	}
	if p.SuccessPath == "" {
		p.SuccessPath = "/payment/return/success"
	}
	if p.CancelPath == "" {
		p.CancelPath = "/payment/return/cancel"
	}
	if p.FailurePath == "" {
		p.FailurePath = "/payment/return/failure"
	}
	if p.PendingPath == "" {
		p.PendingPath = "/payment/return/pending"
	}
	if p.LockTTL <= 0 {
		p.LockTTL = 30 * time.Second
	}
	if p.LockWait <= 0 {
		p.LockWait = 5 * time.Second
	}
	if p.Stripe.WebhookTolerance <= 0 {
		p.Stripe.WebhookTolerance = 300 * time.Second
	}
	if p.MercadoPago.BaseURL == "" {
		p.MercadoPago.BaseURL = "https://api.mercadopago.com"
	}

	b := &cfg.Breaker
	if b.MaxRequests == 0 {
		b.MaxRequests = 1
	}
	if b.Interval <= 0 {
		b.Interval = time.Minute
	}
	if b.Timeout <= 0 {
		b.Timeout = 30 * time.Second
	}
	if b.FailureThreshold == 0 {
		b.FailureThreshold = 5
	}

	if cfg.RateLimit.CheckoutPerWindow <= 0 {
		cfg.RateLimit.CheckoutPerWindow = 10
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}

	s := &cfg.Scheduler
	if s.ReconcileInterval <= 0 {
		s.ReconcileInterval = 5 * time.Minute
	}
	if s.StaleAfter <= 0 {
		s.StaleAfter = 15 * time.Minute
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 100
	}
	if s.IntegrityInterval <= 0 {
		s.IntegrityInterval = 10 * time.Minute
	}

	if cfg.Worker.Size <= 0 {
		cfg.Worker.Size = 4
	}
	if cfg.Worker.Queue <= 0 {
		cfg.Worker.Queue = 256
	}
	if cfg.AMQP.Exchange == "" {
		cfg.AMQP.Exchange = "drivepass.events"
	}
	if cfg.AMQP.RoutingKey == "" {
		cfg.AMQP.RoutingKey = "package.activated"
	}
}

// Validate checks required settings. Production refuses unsigned webhooks.
func (c *Config) Validate() error {
	if c.Runtime.Env != EnvDevelopment && c.Runtime.Env != EnvProduction {
		return fmt.Errorf("runtime.env must be %q or %q", EnvDevelopment, EnvProduction)
	}
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	switch strings.ToLower(c.Payment.DefaultProvider) {
	case "stripe", "mercadopago":
	default:
		return fmt.Errorf("payment.default_provider %q is not supported", c.Payment.DefaultProvider)
	}
	if c.IsProduction() {
		if c.Payment.Stripe.WebhookSecret == "" {
			return errors.New("payment.stripe.webhook_secret is required in production")
		}
		if c.Payment.MercadoPago.WebhookSecret == "" {
			return errors.New("payment.mercadopago.webhook_secret is required in production")
		}
		if c.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is required in production")
		}
		if c.Auth.ServiceAPIKey == "" {
			return errors.New("auth.service_api_key is required in production")
		}
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
