package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const StatusSucceeded = "succeeded"

// Purchase is a one-time payment attributed to a storefront user.
type Purchase struct {
	ID                    snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID                string       `gorm:"not null" json:"user_id"`
	StripePriceID         *string      `gorm:"column:stripe_price_id" json:"stripe_price_id,omitempty"`
	StripeProductID       *string      `gorm:"column:stripe_product_id" json:"stripe_product_id,omitempty"`
	SizeKey               *string      `json:"size_key,omitempty"`
	Amount                int64        `gorm:"not null" json:"amount"`
	Currency              string       `gorm:"not null" json:"currency"`
	Status                string       `gorm:"not null" json:"status"`
	StripePaymentIntentID string       `gorm:"column:stripe_payment_intent_id;not null;uniqueIndex" json:"stripe_payment_intent_id"`
	CreatedAt             time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time    `gorm:"not null" json:"updated_at"`
}

func (Purchase) TableName() string { return "purchases" }

// UpsertResult says which write, if any, Upsert performed.
type UpsertResult string

const (
	UpsertInserted  UpsertResult = "inserted"
	UpsertUpdated   UpsertResult = "updated"
	UpsertUnchanged UpsertResult = "unchanged"
)
