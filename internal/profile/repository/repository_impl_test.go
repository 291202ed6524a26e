package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/smallbiznis/reconciler/internal/profile/domain"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`CREATE TABLE profiles (
		id TEXT PRIMARY KEY,
		email TEXT,
		stripe_customer_id TEXT UNIQUE,
		subscription_status TEXT,
		current_plan TEXT,
		partnership_tier TEXT,
		updated_at TIMESTAMP NOT NULL
	)`).Error)
	return db
}

func TestLinkCustomerAndLookup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := Provide()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.Exec(`INSERT INTO profiles (id, updated_at) VALUES ('user_1', ?)`, now).Error)

	require.NoError(t, repo.LinkCustomer(ctx, db, "user_1", "cus_1", now))
	// relinking the same customer is a no-op
	require.NoError(t, repo.LinkCustomer(ctx, db, "user_1", "cus_1", now))

	profile, err := repo.FindByCustomerID(ctx, db, "cus_1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "user_1", profile.ID)

	missing, err := repo.FindByCustomerID(ctx, db, "cus_unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = repo.LinkCustomer(ctx, db, "user_missing", "cus_2", now)
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
}

func TestSubscriptionProjectionAndTier(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := Provide()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.Exec(`INSERT INTO profiles (id, updated_at) VALUES ('user_1', ?)`, now).Error)

	require.NoError(t, repo.SetSubscriptionProjection(ctx, db, "user_1", "active", "Founders Club", now))
	require.NoError(t, repo.SetPartnershipTier(ctx, db, "user_1", "gold", now))
	require.NoError(t, repo.SetSubscriptionStatus(ctx, db, "user_1", "canceled", now))

	profile, err := repo.FindByID(ctx, db, "user_1")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "canceled", *profile.SubscriptionStatus)
	assert.Equal(t, "Founders Club", *profile.CurrentPlan)
	assert.Equal(t, "gold", profile.Tier())

	assert.ErrorIs(t, repo.SetPartnershipTier(ctx, db, "user_missing", "gold", now), domain.ErrProfileNotFound)
}
