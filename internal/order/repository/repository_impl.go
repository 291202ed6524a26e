package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reconciler/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, order *domain.Order) (snowflake.ID, error) {
	err := db.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, stripe_session_id, stripe_payment_intent_id, customer_email, amount_total,
			amount_subtotal, currency, status, payment_status, user_id, shipping_address,
			metadata, fulfillment_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stripe_session_id) DO UPDATE SET
			stripe_payment_intent_id = COALESCE(excluded.stripe_payment_intent_id, orders.stripe_payment_intent_id),
			customer_email = COALESCE(excluded.customer_email, orders.customer_email),
			amount_total = excluded.amount_total,
			amount_subtotal = excluded.amount_subtotal,
			currency = excluded.currency,
			payment_status = excluded.payment_status,
			user_id = COALESCE(excluded.user_id, orders.user_id),
			shipping_address = COALESCE(excluded.shipping_address, orders.shipping_address),
			metadata = COALESCE(excluded.metadata, orders.metadata),
			updated_at = excluded.updated_at`,
		order.ID,
		order.StripeSessionID,
		order.StripePaymentIntentID,
		order.CustomerEmail,
		order.AmountTotal,
		order.AmountSubtotal,
		order.Currency,
		order.Status,
		order.PaymentStatus,
		order.UserID,
		order.ShippingAddress,
		order.Metadata,
		order.FulfillmentStatus,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
	if err != nil {
		return 0, err
	}

	var id int64
	if err := db.WithContext(ctx).Raw(
		`SELECT id FROM orders WHERE stripe_session_id = ?`,
		order.StripeSessionID,
	).Scan(&id).Error; err != nil {
		return 0, err
	}
	return snowflake.ID(id), nil
}

func (r *repo) FindBySessionID(ctx context.Context, db *gorm.DB, sessionID string) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Where("stripe_session_id = ?", sessionID).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) CountPaidForUserExcluding(ctx context.Context, db *gorm.DB, userID, sessionID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM orders
		 WHERE user_id = ? AND payment_status = ? AND stripe_session_id <> ?`,
		userID,
		domain.PaymentStatusPaid,
		sessionID,
	).Scan(&count).Error
	return count, err
}
