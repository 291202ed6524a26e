package inventory

import (
	"github.com/smallbiznis/reconciler/internal/inventory/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("inventory.repository",
	fx.Provide(repository.Provide),
)
