package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
	StatusCompleted  = "completed"
)

// PaymentStatusPaid marks an order whose checkout was paid. Paid orders count
// as a completed purchase for referral purposes.
const PaymentStatusPaid = "paid"

// Order is one storefront checkout. Status and FulfillmentStatus are owned
// by the admin side once the row exists.
type Order struct {
	ID                    snowflake.ID      `gorm:"primaryKey" json:"id"`
	StripeSessionID       string            `gorm:"column:stripe_session_id;not null;uniqueIndex" json:"stripe_session_id"`
	StripePaymentIntentID *string           `gorm:"column:stripe_payment_intent_id" json:"stripe_payment_intent_id,omitempty"`
	CustomerEmail         *string           `json:"customer_email,omitempty"`
	AmountTotal           int64             `gorm:"not null" json:"amount_total"`
	AmountSubtotal        int64             `gorm:"not null" json:"amount_subtotal"`
	Currency              string            `gorm:"not null" json:"currency"`
	Status                string            `gorm:"not null" json:"status"`
	PaymentStatus         *string           `json:"payment_status,omitempty"`
	UserID                *string           `json:"user_id,omitempty"`
	ShippingAddress       datatypes.JSON    `gorm:"type:jsonb" json:"shipping_address,omitempty"`
	Metadata              datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	FulfillmentStatus     string            `gorm:"not null" json:"fulfillment_status"`
	CreatedAt             time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time         `gorm:"not null" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }
