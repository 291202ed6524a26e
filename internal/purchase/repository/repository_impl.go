package repository

import (
	"context"

	"github.com/smallbiznis/reconciler/internal/purchase/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, purchase *domain.Purchase) (domain.UpsertResult, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO purchases (
			id, user_id, stripe_price_id, stripe_product_id, size_key, amount, currency,
			status, stripe_payment_intent_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stripe_payment_intent_id) DO NOTHING`,
		purchase.ID,
		purchase.UserID,
		purchase.StripePriceID,
		purchase.StripeProductID,
		purchase.SizeKey,
		purchase.Amount,
		purchase.Currency,
		purchase.Status,
		purchase.StripePaymentIntentID,
		purchase.CreatedAt,
		purchase.UpdatedAt,
	)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected > 0 {
		return domain.UpsertInserted, nil
	}

	res = db.WithContext(ctx).Exec(
		`UPDATE purchases
		 SET status = ?, amount = ?, currency = ?, updated_at = ?
		 WHERE stripe_payment_intent_id = ? AND status <> ? AND status <> ?`,
		purchase.Status,
		purchase.Amount,
		purchase.Currency,
		purchase.UpdatedAt,
		purchase.StripePaymentIntentID,
		domain.StatusSucceeded,
		purchase.Status,
	)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected > 0 {
		return domain.UpsertUpdated, nil
	}
	return domain.UpsertUnchanged, nil
}
