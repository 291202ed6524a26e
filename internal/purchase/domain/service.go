package domain

import (
	"context"

	stripeadapter "github.com/smallbiznis/reconciler/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/reconciler/internal/payment/domain"
)

// Item identifies what was bought when the payment intent metadata does not.
type Item struct {
	PriceID   string
	ProductID string
	SizeKey   string
}

type RecordRequest struct {
	PaymentIntent *stripeadapter.PaymentIntent
	// UserID overrides attribution through the payment intent.
	UserID   string
	Fallback Item
}

type Service interface {
	Record(ctx context.Context, req RecordRequest) (paymentdomain.Outcome, error)
	HandlePaymentIntentSucceeded(ctx context.Context, event *paymentdomain.InboundEvent) (paymentdomain.Outcome, error)
}
