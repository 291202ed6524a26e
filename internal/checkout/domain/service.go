package domain

import (
	"context"

	stripeadapter "github.com/smallbiznis/reconciler/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/reconciler/internal/payment/domain"
)

const (
	ModePayment      = "payment"
	ModeSubscription = "subscription"
)

// Inventory failure reasons reported per line item.
const (
	ItemFailureNoPrice         = "no_price"
	ItemFailureVariantNotFound = "variant_not_found"
	ItemFailureDecrement       = "decrement_failed"
)

// Platform is the read-only slice of the payments platform checkout needs.
type Platform interface {
	GetSubscription(ctx context.Context, id string) (*stripeadapter.Subscription, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripeadapter.PaymentIntent, error)
	ListLineItems(ctx context.Context, sessionID string) ([]stripeadapter.LineItem, error)
}

type Service interface {
	HandleCheckoutCompleted(ctx context.Context, event *paymentdomain.InboundEvent) (paymentdomain.Outcome, error)
}
