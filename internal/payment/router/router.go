package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/smallbiznis/reconciler/internal/observability/logger"
	"github.com/smallbiznis/reconciler/internal/payment/domain"
)

type Route struct {
	EventType string
	Handler   domain.Handler
}

// Router dispatches an event to the single handler registered for its type.
type Router struct {
	handlers map[string]domain.Handler
	log      *zap.Logger
}

// New builds a router from routes. It panics when a type is registered twice
// or is not in domain.HandledEventTypes, since either is a wiring bug.
func New(log *zap.Logger, routes ...Route) *Router {
	r := &Router{
		handlers: make(map[string]domain.Handler, len(routes)),
		log:      log.Named("payment.router"),
	}
	for _, route := range routes {
		if route.Handler == nil {
			panic(fmt.Sprintf("router: nil handler for %q", route.EventType))
		}
		if !domain.IsHandledEventType(route.EventType) {
			panic(fmt.Sprintf("router: %q is not an allow-listed event type", route.EventType))
		}
		if _, exists := r.handlers[route.EventType]; exists {
			panic(fmt.Sprintf("router: duplicate handler for %q", route.EventType))
		}
		r.handlers[route.EventType] = route.Handler
	}
	return r
}

func (r *Router) Dispatch(ctx context.Context, event *domain.InboundEvent) (domain.Outcome, error) {
	handler, ok := r.handlers[event.Type]
	if !ok {
		logger.WithContext(ctx, r.log).Debug("event type not handled")
		return domain.Ignored(), nil
	}
	return handler.Handle(ctx, event)
}

var _ domain.Dispatcher = (*Router)(nil)
