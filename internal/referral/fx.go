package referral

import (
	"github.com/smallbiznis/reconciler/internal/referral/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("referral.repository",
	fx.Provide(repository.Provide),
)
