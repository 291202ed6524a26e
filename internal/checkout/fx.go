package checkout

import (
	"github.com/smallbiznis/reconciler/internal/checkout/domain"
	"github.com/smallbiznis/reconciler/internal/checkout/service"
	stripeadapter "github.com/smallbiznis/reconciler/internal/payment/adapters/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("checkout.service",
	fx.Provide(func(c *stripeadapter.Client) domain.Platform { return c }),
	fx.Provide(service.New),
)
