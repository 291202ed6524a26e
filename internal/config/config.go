package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the process configuration loaded from the environment.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewCatalogHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string `env:"APP_SERVICE" envDefault:"reconciler"`
	AppVersion  string `env:"APP_VERSION" envDefault:"0.1.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`

	OTLPEndpoint string `env:"OTLP_ENDPOINT" envDefault:"localhost:4317"`

	DBType            string `env:"DATABASE_TYPE" envDefault:"postgres"`
	DBHost            string `env:"DATABASE_HOST" envDefault:"localhost"`
	DBPort            string `env:"DATABASE_PORT" envDefault:"5432"`
	DBName            string `env:"DATABASE_NAME" envDefault:"postgres"`
	DBUser            string `env:"DATABASE_USER" envDefault:"postgres"`
	DBPassword        string `env:"DATABASE_PASSWORD"`
	DBSSLMode         string `env:"DATABASE_SSLMODE" envDefault:"disable"`
	DBMaxIdleConn     int    `env:"DATABASE_MAX_IDLE_CONN" envDefault:"5"`
	DBMaxOpenConn     int    `env:"DATABASE_MAX_OPEN_CONN" envDefault:"20"`
	DBConnMaxLifetime int    `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"300"`
	DBConnMaxIdleTime int    `env:"DATABASE_CONN_MAX_IDLE_TIME" envDefault:"60"`
	DBRunMigrations   bool   `env:"DATABASE_RUN_MIGRATIONS" envDefault:"true"`

	Redis  RedisConfig
	Stripe StripeConfig
	Email  EmailConfig
	Kafka  KafkaConfig

	CatalogPath string `env:"CATALOG_CONFIG_PATH"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// StripeConfig carries the API key used for read-only lookups and the
// signing secrets accepted on the webhook endpoint.
type StripeConfig struct {
	SecretKey           string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret       string `env:"STRIPE_WEBHOOK_SECRET"`
	WebhookSecretTest   string `env:"STRIPE_WEBHOOK_SECRET_TEST"`
	WebhookSecretLegacy string `env:"STRIPE_WEBHOOK_SECRET_LEGACY"`
}

type EmailConfig struct {
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM" envDefault:"orders@localhost"`

	BatchSize   int     `env:"EMAIL_BATCH_SIZE" envDefault:"25"`
	MaxAttempts int     `env:"EMAIL_MAX_ATTEMPTS" envDefault:"5"`
	SendRate    float64 `env:"EMAIL_SEND_RATE" envDefault:"5"`
	SendBurst   int     `env:"EMAIL_SEND_BURST" envDefault:"10"`
}

type KafkaConfig struct {
	Brokers        []string `env:"KAFKA_BROKERS" envSeparator:","`
	AnalyticsTopic string   `env:"KAFKA_ANALYTICS_TOPIC" envDefault:"storefront.analytics"`
}

// Load loads configuration from environment variables and .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// WebhookSecrets returns the configured signing secrets in the order they
// are tried: live, test, legacy. Empty entries are dropped.
func (c StripeConfig) WebhookSecrets() []string {
	candidates := []string{c.WebhookSecret, c.WebhookSecretTest, c.WebhookSecretLegacy}
	out := make([]string, 0, len(candidates))
	for _, secret := range candidates {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			continue
		}
		out = append(out, secret)
	}
	return out
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) normalize() {
	c.AppName = strings.TrimSpace(c.AppName)
	if c.AppName == "" {
		c.AppName = "reconciler"
	}
	c.Environment = strings.ToLower(strings.TrimSpace(c.Environment))
	c.DBType = strings.ToLower(strings.TrimSpace(c.DBType))
	c.Stripe.SecretKey = strings.TrimSpace(c.Stripe.SecretKey)
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)

	brokers := make([]string, 0, len(c.Kafka.Brokers))
	for _, broker := range c.Kafka.Brokers {
		broker = strings.TrimSpace(broker)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	c.Kafka.Brokers = brokers

	if c.Email.BatchSize <= 0 {
		c.Email.BatchSize = 25
	}
	if c.Email.MaxAttempts <= 0 {
		c.Email.MaxAttempts = 5
	}
}
