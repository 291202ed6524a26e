package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrProfileNotFound = errors.New("profile_not_found")

// Repository lookups return (nil, nil) when no row matches.
type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, userID string) (*Profile, error)
	FindByCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*Profile, error)
	LinkCustomer(ctx context.Context, db *gorm.DB, userID, customerID string, now time.Time) error
	SetSubscriptionProjection(ctx context.Context, db *gorm.DB, userID, status, plan string, now time.Time) error
	SetSubscriptionStatus(ctx context.Context, db *gorm.DB, userID, status string, now time.Time) error
	SetPartnershipTier(ctx context.Context, db *gorm.DB, userID, tier string, now time.Time) error
}
