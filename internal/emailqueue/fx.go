package emailqueue

import (
	"github.com/smallbiznis/reconciler/internal/emailqueue/dispatcher"
	"github.com/smallbiznis/reconciler/internal/emailqueue/repository"
	"github.com/smallbiznis/reconciler/internal/emailqueue/service"
	"go.uber.org/fx"
)

// Module provides the queue used by the webhook handlers.
var Module = fx.Module("emailqueue.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

// DispatcherModule adds the queue consumer for the mailer process.
var DispatcherModule = fx.Module("emailqueue.dispatcher",
	fx.Provide(dispatcher.New),
)
