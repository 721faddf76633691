// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every knob of the registration service.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	Database Database
	Payment  Payment
	Sweep    Sweep

	RedisURL string `env:"REDIS_URL"`
}

// Database holds PostgreSQL connection settings.
type Database struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	Name     string `env:"DB_NAME" envDefault:"eventbooking"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	MaxConns       int32 `env:"DB_MAX_CONNS" envDefault:"20"`
	MinConns       int32 `env:"DB_MIN_CONNS" envDefault:"2"`
	ConnectRetries int   `env:"DB_CONNECT_RETRIES" envDefault:"5"`
}

// Payment configures the payment provider and the retry policy around it.
type Payment struct {
	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	StripeBaseURL       string        `env:"STRIPE_BASE_URL" envDefault:"https://api.stripe.com"`
	RequestTimeout      time.Duration `env:"PAYMENT_REQUEST_TIMEOUT" envDefault:"10s"`
	MaxAttempts         uint          `env:"PAYMENT_MAX_ATTEMPTS" envDefault:"4"`
	InitialBackoff      time.Duration `env:"PAYMENT_INITIAL_BACKOFF" envDefault:"200ms"`
	MaxElapsed          time.Duration `env:"PAYMENT_MAX_ELAPSED" envDefault:"10s"`
	SignatureTolerance  time.Duration `env:"WEBHOOK_SIGNATURE_TOLERANCE" envDefault:"5m"`
}

// Sweep configures the background expiry sweep.
type Sweep struct {
	Interval                time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	BatchSize               int           `env:"SWEEP_BATCH_SIZE" envDefault:"100"`
	CheckoutTTL             time.Duration `env:"CHECKOUT_TTL" envDefault:"30m"`
	PendingTimeout          time.Duration `env:"PENDING_TIMEOUT" envDefault:"5m"`
	IdempotencyKeyRetention time.Duration `env:"IDEMPOTENCY_KEY_RETENTION" envDefault:"24h"`
	LockTTL                 time.Duration `env:"SWEEP_LOCK_TTL" envDefault:"50s"`
}

// Load reads an optional .env file, then parses and validates the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Sweep.Interval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.Sweep.BatchSize <= 0 {
		errs = append(errs, errors.New("SWEEP_BATCH_SIZE must be positive"))
	}
	if c.Sweep.CheckoutTTL <= 0 {
		errs = append(errs, errors.New("CHECKOUT_TTL must be positive"))
	}
	if c.Sweep.PendingTimeout <= 0 {
		errs = append(errs, errors.New("PENDING_TIMEOUT must be positive"))
	}
	if c.Payment.MaxAttempts == 0 {
		errs = append(errs, errors.New("PAYMENT_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Payment.StripeSecretKey != "" && strings.TrimSpace(c.Payment.StripeWebhookSecret) == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set"))
	}
	return errors.Join(errs...)
}

// DSN builds a libpq-compatible connection string.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// MigrateURL builds the pgx5:// URL expected by golang-migrate.
func (d Database) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Name,
		RawQuery: url.Values{"sslmode": []string{d.SSLMode}}.Encode(),
	}
	return u.String()
}
