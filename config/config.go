// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/creditgate/domain/credit"
	"github.com/artpar/creditgate/domain/plan"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Credits    CreditsConfig    `yaml:"credits"`
	Plans      []PlanConfig     `yaml:"plans"`
	ModelCosts map[string]int64 `yaml:"model_costs"`
	Payment    PaymentConfig    `yaml:"payment"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the ledger store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // "sqlite", "postgres" or "memory"
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LedgerConfig bounds ledger store calls.
type LedgerConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// CreditsConfig configures balance seeding and pricing fallbacks.
type CreditsConfig struct {
	FreeGrant        *int64 `yaml:"free_grant"` // nil means the default grant
	DefaultModelCost int64  `yaml:"default_model_cost"`
}

// PlanConfig configures a purchasable credit plan.
type PlanConfig struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Credits     int64    `yaml:"credits"`
	PriceAmount int64    `yaml:"price_amount"` // cents
	Currency    string   `yaml:"currency"`
	Popular     bool     `yaml:"popular"`
	Features    []string `yaml:"features,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// PaymentConfig configures the payment provider.
type PaymentConfig struct {
	Provider   string       `yaml:"provider"` // "none", "dummy" or "stripe"
	SuccessURL string       `yaml:"success_url"`
	CancelURL  string       `yaml:"cancel_url"`
	Stripe     StripeConfig `yaml:"stripe"`
}

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey     string `yaml:"secret_key,omitempty"`
	WebhookSecret string `yaml:"webhook_secret,omitempty"`
}

// RedisConfig configures the shared webhook deduper.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies overrides and defaults, and
// validates the result.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(&cfg)
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	CREDITGATE_SERVER_HOST              - Server host (default: 0.0.0.0)
//	CREDITGATE_SERVER_PORT              - Server port (default: 8080)
//	CREDITGATE_DATABASE_DRIVER          - sqlite, postgres or memory (default: sqlite)
//	CREDITGATE_DATABASE_DSN             - Database path or DSN (default: creditgate.db)
//	CREDITGATE_LEDGER_TIMEOUT           - Ledger call timeout (default: 5s)
//	CREDITGATE_CREDITS_FREE_GRANT       - Credits seeded for new users (default: 10)
//	CREDITGATE_CREDITS_DEFAULT_COST     - Cost of unpriced models (default: 1)
//	CREDITGATE_PAYMENT_PROVIDER         - none, dummy or stripe (default: none)
//	CREDITGATE_STRIPE_SECRET_KEY        - Stripe API key
//	CREDITGATE_STRIPE_WEBHOOK_SECRET    - Stripe webhook signing secret
//	CREDITGATE_REDIS_ADDR               - Enables the Redis deduper when set
//	CREDITGATE_LOG_LEVEL                - debug, info, warn, error (default: info)
//	CREDITGATE_LOG_FORMAT               - json or console (default: json)
//	CREDITGATE_METRICS_ENABLED          - Enable /metrics endpoint
func LoadFromEnv() (*Config, error) {
	return finish(&Config{})
}

// LoadWithFallback loads from file when it exists, otherwise from the
// environment alone.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

func finish(cfg *Config) (*Config, error) {
	// Environment variables always override file-based configuration.
	applyEnvOverrides(cfg)

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies CREDITGATE_* environment variables to the config.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("CREDITGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CREDITGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CREDITGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("CREDITGATE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Database configuration
	if v := os.Getenv("CREDITGATE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("CREDITGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("CREDITGATE_LEDGER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ledger.Timeout = d
		}
	}

	// Credits configuration
	if v := os.Getenv("CREDITGATE_CREDITS_FREE_GRANT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Credits.FreeGrant = &n
		}
	}
	if v := os.Getenv("CREDITGATE_CREDITS_DEFAULT_COST"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Credits.DefaultModelCost = n
		}
	}

	// Payment configuration
	if v := os.Getenv("CREDITGATE_PAYMENT_PROVIDER"); v != "" {
		cfg.Payment.Provider = v
	}
	if v := os.Getenv("CREDITGATE_PAYMENT_SUCCESS_URL"); v != "" {
		cfg.Payment.SuccessURL = v
	}
	if v := os.Getenv("CREDITGATE_PAYMENT_CANCEL_URL"); v != "" {
		cfg.Payment.CancelURL = v
	}
	if v := os.Getenv("CREDITGATE_STRIPE_SECRET_KEY"); v != "" {
		cfg.Payment.Stripe.SecretKey = v
	}
	if v := os.Getenv("CREDITGATE_STRIPE_WEBHOOK_SECRET"); v != "" {
		cfg.Payment.Stripe.WebhookSecret = v
	}

	// Redis configuration
	if v := os.Getenv("CREDITGATE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("CREDITGATE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CREDITGATE_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v)
	}

	// Logging configuration
	if v := os.Getenv("CREDITGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CREDITGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("CREDITGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("CREDITGATE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "creditgate.db"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}

	if cfg.Ledger.Timeout == 0 {
		cfg.Ledger.Timeout = 5 * time.Second
	}

	if cfg.Credits.FreeGrant == nil {
		grant := credit.DefaultFreeGrant
		cfg.Credits.FreeGrant = &grant
	}
	if cfg.Credits.DefaultModelCost == 0 {
		cfg.Credits.DefaultModelCost = plan.DefaultModelCost
	}

	for i := range cfg.Plans {
		if cfg.Plans[i].Currency == "" {
			cfg.Plans[i].Currency = "usd"
		}
		if cfg.Plans[i].Name == "" {
			cfg.Plans[i].Name = cfg.Plans[i].ID
		}
	}

	if cfg.Payment.Provider == "" {
		cfg.Payment.Provider = "none"
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.DedupTTL == 0 {
		cfg.Redis.DedupTTL = 72 * time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Default plans if none configured
	if len(cfg.Plans) == 0 {
		cfg.Plans = DefaultPlans()
	}
}

// DefaultPlans returns the plans served when none are configured.
func DefaultPlans() []PlanConfig {
	return []PlanConfig{
		{
			ID: "starter", Name: "Starter", Credits: 100, PriceAmount: 999, Currency: "usd",
			Features: []string{"100 credits", "All models"},
		},
		{
			ID: "pro", Name: "Pro", Credits: 500, PriceAmount: 3999, Currency: "usd", Popular: true,
			Features: []string{"500 credits", "All models", "Priority support"},
		},
		{
			ID: "enterprise", Name: "Enterprise", Credits: 2000, PriceAmount: 12999, Currency: "usd",
			Features: []string{"2000 credits", "All models", "Dedicated support"},
		},
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "memory": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, memory; got %q", cfg.Database.Driver)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.driver is 'postgres'")
	}

	if cfg.Ledger.Timeout < 0 {
		return fmt.Errorf("ledger.timeout must not be negative")
	}
	if *cfg.Credits.FreeGrant < 0 {
		return fmt.Errorf("credits.free_grant must not be negative")
	}
	if cfg.Credits.DefaultModelCost < 1 {
		return fmt.Errorf("credits.default_model_cost must be at least 1")
	}

	validProviders := map[string]bool{"none": true, "dummy": true, "stripe": true}
	if !validProviders[cfg.Payment.Provider] {
		return fmt.Errorf("payment.provider must be one of: none, dummy, stripe")
	}
	if cfg.Payment.Provider == "stripe" {
		if cfg.Payment.Stripe.SecretKey == "" {
			return fmt.Errorf("payment.stripe.secret_key is required when payment.provider is 'stripe'")
		}
		if cfg.Payment.Stripe.WebhookSecret == "" {
			return fmt.Errorf("payment.stripe.webhook_secret is required when payment.provider is 'stripe'")
		}
	}

	if cfg.Redis.Enabled && cfg.Redis.DedupTTL < 0 {
		return fmt.Errorf("redis.dedup_ttl must not be negative")
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	// Plan and cost rules live with the catalog.
	if _, err := cfg.ToCatalog(); err != nil {
		return err
	}

	return nil
}

// ToPlans converts plan configuration to domain plans in configured order.
func (c *Config) ToPlans() []plan.Plan {
	plans := make([]plan.Plan, 0, len(c.Plans))
	for _, p := range c.Plans {
		plans = append(plans, plan.Plan{
			ID:          p.ID,
			Name:        p.Name,
			Credits:     p.Credits,
			PriceAmount: p.PriceAmount,
			Currency:    p.Currency,
			Popular:     p.Popular,
			Features:    p.Features,
			Description: p.Description,
		})
	}
	return plans
}

// ToCatalog builds the immutable catalog served to the credits service.
func (c *Config) ToCatalog() (*plan.Catalog, error) {
	catalog, err := plan.NewCatalog(c.ToPlans(), c.ModelCosts, c.Credits.DefaultModelCost)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return catalog, nil
}

// FreeGrant returns the configured free grant.
func (c *Config) FreeGrant() int64 {
	if c.Credits.FreeGrant == nil {
		return credit.DefaultFreeGrant
	}
	return *c.Credits.FreeGrant
}
