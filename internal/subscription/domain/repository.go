package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// Upsert writes the row keyed by StripeSubscriptionID. The latest write wins.
	Upsert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByStripeID(ctx context.Context, db *gorm.DB, stripeSubscriptionID string) (*Subscription, error)
	MarkCanceled(ctx context.Context, db *gorm.DB, stripeSubscriptionID string, canceledAt, now time.Time) (bool, error)
	MarkPastDue(ctx context.Context, db *gorm.DB, stripeSubscriptionID string, now time.Time) (bool, error)
	CountLiveForUserExcluding(ctx context.Context, db *gorm.DB, userID, stripeSubscriptionID string) (int64, error)
	CountForUserExcluding(ctx context.Context, db *gorm.DB, userID, stripeSubscriptionID string) (int64, error)
}
