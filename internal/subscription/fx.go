package subscription

import (
	stripeadapter "github.com/smallbiznis/reconciler/internal/payment/adapters/stripe"
	"github.com/smallbiznis/reconciler/internal/subscription/domain"
	"github.com/smallbiznis/reconciler/internal/subscription/repository"
	"github.com/smallbiznis/reconciler/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(c *stripeadapter.Client) domain.Platform { return c }),
	fx.Provide(service.New),
)
