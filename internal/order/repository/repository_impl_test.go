package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/reconciler/internal/order/domain"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`CREATE TABLE orders (
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
	)`).Error)
	return db
}

func strPtr(s string) *string { return &s }

func newOrder(id int64, sessionID string, now time.Time) *domain.Order {
	return &domain.Order{
		ID:                    snowflake.ID(id),
		StripeSessionID:       sessionID,
		StripePaymentIntentID: strPtr("pi_1"),
		CustomerEmail:         strPtr("buyer@example.com"),
		AmountTotal:           4200,
		AmountSubtotal:        4000,
		Currency:              "usd",
		Status:                domain.StatusProcessing,
		PaymentStatus:         strPtr(domain.PaymentStatusPaid),
		UserID:                strPtr("user_1"),
		ShippingAddress:       datatypes.JSON(`{"city":"Austin"}`),
		Metadata:              datatypes.JSONMap{"user_id": "user_1"},
		FulfillmentStatus:     "unfulfilled",
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func TestUpsertKeepsOneOrderPerSession(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := Provide()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	id, err := repo.Upsert(ctx, db, newOrder(1, "cs_1", now))
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	// admin moves the order forward
	require.NoError(t, db.Exec(`UPDATE orders SET status = 'shipped', fulfillment_status = 'fulfilled' WHERE id = 1`).Error)

	again := newOrder(2, "cs_1", now.Add(time.Minute))
	again.AmountTotal = 4500
	id, err = repo.Upsert(ctx, db, again)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(1) FROM orders`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)

	stored, err := repo.FindBySessionID(ctx, db, "cs_1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "shipped", stored.Status)
	assert.Equal(t, "fulfilled", stored.FulfillmentStatus)
	assert.Equal(t, int64(4500), stored.AmountTotal)
}

func TestCountPaidForUserExcluding(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := Provide()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := repo.Upsert(ctx, db, newOrder(1, "cs_1", now))
	require.NoError(t, err)

	count, err := repo.CountPaidForUserExcluding(ctx, db, "user_1", "cs_1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	_, err = repo.Upsert(ctx, db, newOrder(2, "cs_2", now))
	require.NoError(t, err)

	count, err = repo.CountPaidForUserExcluding(ctx, db, "user_1", "cs_2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
