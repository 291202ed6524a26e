package domain

import "context"

type OutcomeStatus string

const (
	OutcomeApplied OutcomeStatus = "applied"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeIgnored OutcomeStatus = "ignored"
)

// Skip reasons for events that cannot be attributed. Retrying them will not
// change the result, so they are acknowledged instead of failed.
const (
	ReasonMissingCustomer     = "missing_customer"
	ReasonUnknownCustomer     = "unknown_customer"
	ReasonMissingSubscription = "missing_subscription"
	ReasonUnknownSubscription = "unknown_subscription"
	ReasonUnsupportedMode     = "unsupported_mode"
	ReasonMissingTier         = "missing_tier"
)

// Outcome is the typed result of a handler. Fatal conditions are returned as
// errors instead.
type Outcome struct {
	Status OutcomeStatus
	Reason string
}

func Applied() Outcome { return Outcome{Status: OutcomeApplied} }

func Skipped(reason string) Outcome { return Outcome{Status: OutcomeSkipped, Reason: reason} }

func Ignored() Outcome { return Outcome{Status: OutcomeIgnored} }

func (o Outcome) String() string {
	if o.Reason == "" {
		return string(o.Status)
	}
	return string(o.Status) + ":" + o.Reason
}

// Handler reconciles one event type.
type Handler interface {
	Handle(ctx context.Context, event *InboundEvent) (Outcome, error)
}

type HandlerFunc func(ctx context.Context, event *InboundEvent) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, event *InboundEvent) (Outcome, error) {
	return f(ctx, event)
}
