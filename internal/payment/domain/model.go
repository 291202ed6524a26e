package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventSubscriptionCreated      = "customer.subscription.created"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
	EventInvoicePaid              = "invoice.paid"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
)

// HandledEventTypes is the allow-list of event types the router dispatches.
// Every other type is acknowledged without processing.
var HandledEventTypes = []string{
	EventCheckoutSessionCompleted,
	EventSubscriptionCreated,
	EventSubscriptionUpdated,
	EventSubscriptionDeleted,
	EventInvoicePaid,
	EventInvoicePaymentFailed,
	EventPaymentIntentSucceeded,
}

func IsHandledEventType(eventType string) bool {
	for _, t := range HandledEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// InboundEvent is a verified event from the payments platform. It is not
// modified after verification.
type InboundEvent struct {
	ID         string
	Type       string
	Livemode   bool
	CreatedAt  time.Time
	ReceivedAt time.Time
	// Payload is the exact request body the signature was computed over.
	Payload []byte
	// Object is data.object, decoded by each handler into its own narrow type.
	Object json.RawMessage
}

// EventRecord is one row of the idempotency ledger. Rows are insert-only.
type EventRecord struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	EventID     string       `json:"event_id" gorm:"type:text;not null;uniqueIndex"`
	EventType   string       `json:"event_type" gorm:"type:text;not null"`
	FirstSeenAt time.Time    `json:"first_seen_at" gorm:"not null"`
}

func (EventRecord) TableName() string { return "webhook_events" }

// FailureRecord keeps the raw event and the error that aborted it, for manual replay.
type FailureRecord struct {
	ID           snowflake.ID   `json:"id" gorm:"primaryKey"`
	EventID      string         `json:"event_id" gorm:"type:text;not null;index"`
	EventType    string         `json:"event_type" gorm:"type:text;not null"`
	Payload      datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ErrorMessage string         `json:"error_message" gorm:"type:text;not null"`
	RecordedAt   time.Time      `json:"recorded_at" gorm:"not null"`
	ReplayedAt   *time.Time     `json:"replayed_at"`
}

func (FailureRecord) TableName() string { return "webhook_failures" }

// IngestResult is what the HTTP boundary reports back to the sender.
type IngestResult struct {
	EventID   string
	EventType string
	Duplicate bool
	Outcome   Outcome
}
