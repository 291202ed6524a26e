package repository

import (
	"context"
	"errors"
	"time"

	subscriptiondomain "github.com/smallbiznis/reconciler/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

var upsertColumns = []string{
	"user_id",
	"stripe_customer_id",
	"stripe_price_id",
	"stripe_product_id",
	"tier_key",
	"size_key",
	"status",
	"current_period_start",
	"current_period_end",
	"cancel_at_period_end",
	"canceled_at",
	"updated_at",
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_subscription_id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		Create(subscription).Error
}

func (r *repo) FindByStripeID(ctx context.Context, db *gorm.DB, stripeSubscriptionID string) (*subscriptiondomain.Subscription, error) {
	var item subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) MarkCanceled(ctx context.Context, db *gorm.DB, stripeSubscriptionID string, canceledAt, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, canceled_at = ?, updated_at = ?
		 WHERE stripe_subscription_id = ?`,
		subscriptiondomain.StatusCanceled,
		canceledAt,
		now,
		stripeSubscriptionID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkPastDue(ctx context.Context, db *gorm.DB, stripeSubscriptionID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, updated_at = ?
		 WHERE stripe_subscription_id = ? AND status <> ?`,
		subscriptiondomain.StatusPastDue,
		now,
		stripeSubscriptionID,
		subscriptiondomain.StatusCanceled,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountLiveForUserExcluding counts the user's active or trialing
// subscriptions other than the given one.
func (r *repo) CountLiveForUserExcluding(ctx context.Context, db *gorm.DB, userID, stripeSubscriptionID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM subscriptions
		 WHERE user_id = ? AND stripe_subscription_id <> ? AND status IN (?, ?)`,
		userID,
		stripeSubscriptionID,
		subscriptiondomain.StatusActive,
		subscriptiondomain.StatusTrialing,
	).Scan(&count).Error
	return count, err
}

func (r *repo) CountForUserExcluding(ctx context.Context, db *gorm.DB, userID, stripeSubscriptionID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM subscriptions WHERE user_id = ? AND stripe_subscription_id <> ?`,
		userID,
		stripeSubscriptionID,
	).Scan(&count).Error
	return count, err
}
