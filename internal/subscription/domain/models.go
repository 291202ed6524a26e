package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusTrialing          = "trialing"
	StatusActive            = "active"
	StatusPastDue           = "past_due"
	StatusCanceled          = "canceled"
	StatusUnpaid            = "unpaid"
	StatusPaused            = "paused"
)

// IsKnownStatus reports whether status is one the platform can send.
func IsKnownStatus(status string) bool {
	switch status {
	case StatusIncomplete, StatusIncompleteExpired, StatusTrialing, StatusActive,
		StatusPastDue, StatusCanceled, StatusUnpaid, StatusPaused:
		return true
	}
	return false
}

// Subscription mirrors a platform subscription for one storefront user.
type Subscription struct {
	ID                   snowflake.ID `gorm:"primaryKey" json:"id"`
	StripeSubscriptionID string       `gorm:"column:stripe_subscription_id;not null;uniqueIndex" json:"stripe_subscription_id"`
	UserID               string       `gorm:"not null;index" json:"user_id"`
	StripeCustomerID     *string      `gorm:"column:stripe_customer_id" json:"stripe_customer_id,omitempty"`
	StripePriceID        *string      `gorm:"column:stripe_price_id" json:"stripe_price_id,omitempty"`
	StripeProductID      *string      `gorm:"column:stripe_product_id" json:"stripe_product_id,omitempty"`
	TierKey              *string      `json:"tier_key,omitempty"`
	SizeKey              *string      `json:"size_key,omitempty"`
	Status               string       `gorm:"not null" json:"status"`
	CurrentPeriodStart   *time.Time   `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time   `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool         `gorm:"not null" json:"cancel_at_period_end"`
	CanceledAt           *time.Time   `json:"canceled_at,omitempty"`
	CreatedAt            time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time    `gorm:"not null" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }
