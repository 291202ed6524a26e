package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStripeConfigWebhookSecrets(t *testing.T) {
	tests := []struct {
		name string
		cfg  StripeConfig
		want []string
	}{
		{
			name: "all configured keeps live test legacy order",
			cfg:  StripeConfig{WebhookSecret: "whsec_live", WebhookSecretTest: "whsec_test", WebhookSecretLegacy: "whsec_old"},
			want: []string{"whsec_live", "whsec_test", "whsec_old"},
		},
		{
			name: "empty entries skipped",
			cfg:  StripeConfig{WebhookSecret: "", WebhookSecretTest: "  ", WebhookSecretLegacy: "whsec_old"},
			want: []string{"whsec_old"},
		},
		{
			name: "none configured",
			cfg:  StripeConfig{},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.WebhookSecrets())
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("APP_SERVICE", "recon-test")
	t.Setenv("DATABASE_TYPE", "SQLite")
	t.Setenv("STRIPE_WEBHOOK_SECRET_TEST", "whsec_test")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, ,kafka-2:9092")
	t.Setenv("EMAIL_BATCH_SIZE", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "recon-test", cfg.AppName)
	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, []string{"whsec_test"}, cfg.Stripe.WebhookSecrets())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 25, cfg.Email.BatchSize)
	assert.Equal(t, 5, cfg.Email.MaxAttempts)
}

func TestCatalogHolderLoadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yml")
	content := []byte(`prices:
  - priceId: price_club_6
    tierKey: club
    sizeKey: six_pack
    planName: Club Six
  - priceId: price_club_12
    tierKey: club
    sizeKey: twelve_pack
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewCatalogHolder(Config{CatalogPath: path}, zap.NewNop())
	require.NoError(t, err)

	entry, ok := holder.Get().Lookup("price_club_6")
	require.True(t, ok)
	assert.Equal(t, "club", entry.TierKey)
	assert.Equal(t, "six_pack", entry.SizeKey)
	assert.Equal(t, "Club Six", entry.PlanName)

	_, ok = holder.Get().Lookup("price_missing")
	assert.False(t, ok)
}

func TestCatalogRejectsDuplicatePrice(t *testing.T) {
	err := validateCatalog(Catalog{Prices: []CatalogEntry{{PriceID: "price_a"}, {PriceID: "price_a"}}})
	require.Error(t, err)
}
