package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort string `env:"APP_PORT" envDefault:"8080"`

	// PublicURL is where the buyer lands after the hosted payment page.
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:3000"`

	DB       DBConfig
	Stripe   StripeConfig
	Checkout CheckoutConfig
	Auth     AuthConfig
	Sweep    SweepConfig

	OtelEndpoint string `env:"OTEL_ENDPOINT"`
}

type DBConfig struct {
	Host         string `env:"DB_HOST"`
	User         string `env:"DB_USER"`
	Password     string `env:"DB_PASSWORD"`
	Name         string `env:"DB_NAME"`
	Port         string `env:"DB_PORT" envDefault:"5432"`
	SSLMode      string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns int    `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
}

type StripeConfig struct {
	SecretKey        string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret    string        `env:"STRIPE_WEBHOOK_SECRET"`
	APIURL           string        `env:"STRIPE_API_URL"`
	WebhookTolerance time.Duration `env:"STRIPE_WEBHOOK_TOLERANCE" envDefault:"5m"`
}

type CheckoutConfig struct {
	Currency string `env:"CHECKOUT_CURRENCY" envDefault:"brl"`
	// GatewayTimeout bounds a single gateway call; GatewayMaxAttempts bounds retries.
	GatewayTimeout     time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	GatewayMaxAttempts uint          `env:"GATEWAY_MAX_ATTEMPTS" envDefault:"3"`
	SessionTTL         time.Duration `env:"CHECKOUT_SESSION_TTL" envDefault:"0s"`
}

type AuthConfig struct {
	SecretKey string `env:"SECRET_KEY"`
}

type SweepConfig struct {
	Interval       time.Duration `env:"RECONCILE_INTERVAL" envDefault:"5m"`
	StaleAfter     time.Duration `env:"RECONCILE_STALE_AFTER" envDefault:"30m"`
	BatchSize      int           `env:"RECONCILE_BATCH_SIZE" envDefault:"100"`
	Concurrency    int           `env:"RECONCILE_CONCURRENCY" envDefault:"4"`
	EventRetention time.Duration `env:"EVENT_RETENTION" envDefault:"720h"`
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var missing []string
	if c.DB.Host == "" {
		missing = append(missing, "DB_HOST")
	}
	if c.Stripe.SecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.Stripe.WebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.Auth.SecretKey == "" {
		missing = append(missing, "SECRET_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.Checkout.GatewayTimeout <= 0 {
		return errors.New("GATEWAY_TIMEOUT must be positive")
	}
	if c.Checkout.GatewayMaxAttempts == 0 {
		return errors.New("GATEWAY_MAX_ATTEMPTS must be at least 1")
	}
	if ttl := c.Checkout.SessionTTL; ttl != 0 && (ttl < 30*time.Minute || ttl > 24*time.Hour) {
		return errors.New("CHECKOUT_SESSION_TTL must be between 30m and 24h")
	}
	return nil
}

func (c *Config) SuccessURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/payment/success"
}

func (c *Config) CancelURL() string {
	return strings.TrimRight(c.PublicURL, "/") + "/payment/cancel"
}

// LoadDBConfig reads only the database settings. Tools that never call the
// gateway use it instead of LoadConfig.
func LoadDBConfig() (DBConfig, error) {
	_ = godotenv.Load()

	var cfg DBConfig
	if err := env.Parse(&cfg); err != nil {
		return DBConfig{}, errors.Wrap(err, "parse env")
	}
	if cfg.Host == "" {
		return DBConfig{}, errors.New("missing required environment variables: DB_HOST")
	}
	return cfg, nil
}
