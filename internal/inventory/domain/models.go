package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrVariantNotFound = errors.New("variant_not_found")

// Variant is a sellable SKU. Stock columns are only changed by the stored
// procedures.
type Variant struct {
	ID               string  `gorm:"primaryKey" json:"id"`
	ProductID        string  `gorm:"not null" json:"product_id"`
	SKU              string  `gorm:"column:sku;not null" json:"sku"`
	SizeKey          *string `json:"size_key,omitempty"`
	StripePriceID    *string `gorm:"column:stripe_price_id" json:"stripe_price_id,omitempty"`
	StockQuantity    int64   `json:"stock_quantity"`
	ReservedQuantity int64   `json:"reserved_quantity"`
}

func (Variant) TableName() string { return "product_variants" }

type Repository interface {
	FindVariantByPriceID(ctx context.Context, db *gorm.DB, priceID string) (*Variant, error)
	// Decrement removes quantity from stock for one checkout line. It reports
	// false when the session already decremented this variant.
	Decrement(ctx context.Context, db *gorm.DB, variantID string, quantity int64, orderID snowflake.ID, sessionID string) (bool, error)
	// ReleaseReservation frees the stock held for a checkout session and
	// returns the number of holds released.
	ReleaseReservation(ctx context.Context, db *gorm.DB, sessionID string) (int64, error)
}
