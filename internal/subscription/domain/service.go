package domain

import (
	"context"

	stripeadapter "github.com/smallbiznis/reconciler/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/reconciler/internal/payment/domain"
)

// Platform is the read-only slice of the payments platform the service needs.
type Platform interface {
	GetSubscription(ctx context.Context, id string) (*stripeadapter.Subscription, error)
	GetProduct(ctx context.Context, id string) (*stripeadapter.Product, error)
}

type Service interface {
	// Reconcile upserts the local row for sub and mirrors its state onto the
	// owner's profile.
	Reconcile(ctx context.Context, sub *stripeadapter.Subscription) (paymentdomain.Outcome, error)

	HandleSubscriptionChanged(ctx context.Context, event *paymentdomain.InboundEvent) (paymentdomain.Outcome, error)
	HandleSubscriptionDeleted(ctx context.Context, event *paymentdomain.InboundEvent) (paymentdomain.Outcome, error)
	HandleInvoicePaid(ctx context.Context, event *paymentdomain.InboundEvent) (paymentdomain.Outcome, error)
	HandleInvoicePaymentFailed(ctx context.Context, event *paymentdomain.InboundEvent) (paymentdomain.Outcome, error)
}
