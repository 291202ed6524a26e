package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reconciler/internal/inventory/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindVariantByPriceID(ctx context.Context, db *gorm.DB, priceID string) (*domain.Variant, error) {
	var item domain.Variant
	err := db.WithContext(ctx).Where("stripe_price_id = ?", priceID).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrVariantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) Decrement(ctx context.Context, db *gorm.DB, variantID string, quantity int64, orderID snowflake.ID, sessionID string) (bool, error) {
	var applied bool
	err := db.WithContext(ctx).Raw(
		`SELECT decrement_inventory(?, ?, ?, ?)`,
		variantID,
		quantity,
		orderID,
		sessionID,
	).Scan(&applied).Error
	return applied, err
}

func (r *repo) ReleaseReservation(ctx context.Context, db *gorm.DB, sessionID string) (int64, error) {
	var released int64
	err := db.WithContext(ctx).Raw(
		`SELECT release_inventory_reservation(?)`,
		sessionID,
	).Scan(&released).Error
	return released, err
}
