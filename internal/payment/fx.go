package payment

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	checkoutdomain "github.com/smallbiznis/reconciler/internal/checkout/domain"
	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
	"github.com/smallbiznis/reconciler/internal/payment/adapters/stripe"
	"github.com/smallbiznis/reconciler/internal/payment/domain"
	"github.com/smallbiznis/reconciler/internal/payment/repository"
	"github.com/smallbiznis/reconciler/internal/payment/router"
	"github.com/smallbiznis/reconciler/internal/payment/webhook"
	purchasedomain "github.com/smallbiznis/reconciler/internal/purchase/domain"
	subscriptiondomain "github.com/smallbiznis/reconciler/internal/subscription/domain"
)

type RouterParams struct {
	fx.In

	Log           *zap.Logger
	Checkout      checkoutdomain.Service
	Subscriptions subscriptiondomain.Service
	Purchases     purchasedomain.Service
}

// NewRouter registers one handler per allow-listed event type.
func NewRouter(p RouterParams) domain.Dispatcher {
	return router.New(p.Log,
		router.Route{EventType: domain.EventCheckoutSessionCompleted, Handler: domain.HandlerFunc(p.Checkout.HandleCheckoutCompleted)},
		router.Route{EventType: domain.EventSubscriptionCreated, Handler: domain.HandlerFunc(p.Subscriptions.HandleSubscriptionChanged)},
		router.Route{EventType: domain.EventSubscriptionUpdated, Handler: domain.HandlerFunc(p.Subscriptions.HandleSubscriptionChanged)},
		router.Route{EventType: domain.EventSubscriptionDeleted, Handler: domain.HandlerFunc(p.Subscriptions.HandleSubscriptionDeleted)},
		router.Route{EventType: domain.EventInvoicePaid, Handler: domain.HandlerFunc(p.Subscriptions.HandleInvoicePaid)},
		router.Route{EventType: domain.EventInvoicePaymentFailed, Handler: domain.HandlerFunc(p.Subscriptions.HandleInvoicePaymentFailed)},
		router.Route{EventType: domain.EventPaymentIntentSucceeded, Handler: domain.HandlerFunc(p.Purchases.HandlePaymentIntentSucceeded)},
	)
}

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(stripe.NewClient),
	fx.Provide(func(cfg config.Config, clk clock.Clock) domain.Verifier {
		return stripe.NewVerifier(cfg.Stripe.WebhookSecrets(), clk)
	}),
	fx.Provide(NewRouter),
	fx.Provide(webhook.NewService),
)
