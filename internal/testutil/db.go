// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// sqliteSchema mirrors the postgres migrations in a form sqlite accepts.
var sqliteSchema = []string{
	`CREATE TABLE webhook_events (
		id BIGINT PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		first_seen_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE webhook_failures (
		id BIGINT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		error_message TEXT NOT NULL,
		recorded_at TIMESTAMP NOT NULL,
		replayed_at TIMESTAMP
	)`,
	`CREATE TABLE profiles (
		id TEXT PRIMARY KEY,
		email TEXT,
		stripe_customer_id TEXT UNIQUE,
		subscription_status TEXT,
		current_plan TEXT,
		partnership_tier TEXT,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE orders (
		id BIGINT PRIMARY KEY,
		stripe_session_id TEXT NOT NULL UNIQUE,
		stripe_payment_intent_id TEXT,
		customer_email TEXT,
		amount_total BIGINT NOT NULL DEFAULT 0,
		amount_subtotal BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'usd',
		status TEXT NOT NULL DEFAULT 'processing',
		payment_status TEXT,
		user_id TEXT,
		shipping_address TEXT,
		metadata TEXT,
		fulfillment_status TEXT NOT NULL DEFAULT 'unfulfilled',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE subscriptions (
		id BIGINT PRIMARY KEY,
		stripe_subscription_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		stripe_customer_id TEXT,
		stripe_price_id TEXT,
		stripe_product_id TEXT,
		tier_key TEXT,
		size_key TEXT,
		status TEXT NOT NULL,
		current_period_start TIMESTAMP,
		current_period_end TIMESTAMP,
		cancel_at_period_end BOOLEAN NOT NULL DEFAULT false,
		canceled_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE purchases (
		id BIGINT PRIMARY KEY,
		user_id TEXT NOT NULL,
		stripe_price_id TEXT,
		stripe_product_id TEXT,
		size_key TEXT,
		amount BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'usd',
		status TEXT NOT NULL,
		stripe_payment_intent_id TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE referrals (
		id BIGINT PRIMARY KEY,
		referrer_user_id TEXT NOT NULL,
		referred_user_id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'pending',
		completed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE email_queue (
		id BIGINT PRIMARY KEY,
		email_type TEXT NOT NULL,
		recipient TEXT NOT NULL,
		template_data TEXT NOT NULL DEFAULT '{}',
		dedupe_key TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMP NOT NULL,
		sent_at TIMESTAMP
	)`,
	`CREATE TABLE product_variants (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		sku TEXT NOT NULL,
		size_key TEXT,
		stripe_price_id TEXT UNIQUE,
		stock_quantity INTEGER NOT NULL DEFAULT 0,
		reserved_quantity INTEGER NOT NULL DEFAULT 0
	)`,
}

// NewDB opens a private in-memory sqlite database with the reconciler schema.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	for _, stmt := range sqliteSchema {
		require.NoError(t, db.Exec(stmt).Error, "schema exec failed")
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// NewNode returns a snowflake node for row ids.
func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// AssertCount runs a COUNT query and compares the result.
func AssertCount(t *testing.T, db *gorm.DB, query string, expected int64, args ...any) {
	t.Helper()

	var count int64
	require.NoError(t, db.Raw(query, args...).Scan(&count).Error)
	require.Equal(t, expected, count, query)
}

// SeedProfile inserts a profile linked to customerID (empty leaves it unlinked).
func SeedProfile(t *testing.T, db *gorm.DB, userID, customerID string) {
	t.Helper()

	var customer any
	if customerID != "" {
		customer = customerID
	}
	require.NoError(t, db.Exec(
		`INSERT INTO profiles (id, stripe_customer_id, updated_at) VALUES (?, ?, ?)`,
		userID, customer, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	).Error)
}
