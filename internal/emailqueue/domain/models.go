package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TypeOrderConfirmation        = "order_confirmation"
	TypeSubscriptionConfirmation = "subscription_confirmation"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Entry is one queued email. DedupeKey makes enqueueing idempotent.
type Entry struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	EmailType    string            `gorm:"not null" json:"email_type"`
	Recipient    string            `gorm:"not null" json:"recipient"`
	TemplateData datatypes.JSONMap `gorm:"type:jsonb;not null" json:"template_data"`
	DedupeKey    string            `gorm:"not null;uniqueIndex" json:"dedupe_key"`
	Status       string            `gorm:"not null" json:"status"`
	Attempts     int               `gorm:"not null" json:"attempts"`
	LastError    *string           `json:"last_error,omitempty"`
	CreatedAt    time.Time         `gorm:"not null" json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
}

func (Entry) TableName() string { return "email_queue" }

func OrderConfirmationKey(sessionID string) string {
	return TypeOrderConfirmation + ":" + sessionID
}

func SubscriptionConfirmationKey(subscriptionID string) string {
	return TypeSubscriptionConfirmation + ":" + subscriptionID
}

type Repository interface {
	// Enqueue reports false when an entry with the same dedupe key exists.
	Enqueue(ctx context.Context, db *gorm.DB, entry *Entry) (bool, error)
	// ClaimPending returns up to limit pending entries under maxAttempts,
	// oldest first. On postgres the rows stay locked until db's transaction ends.
	ClaimPending(ctx context.Context, db *gorm.DB, limit, maxAttempts int) ([]Entry, error)
	MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, sentAt time.Time) error
	// MarkFailed records a failed attempt; terminal moves the entry to failed.
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, terminal bool) error
}

type EnqueueRequest struct {
	EmailType string
	Recipient string
	DedupeKey string
	Data      map[string]any
}

type Queue interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (bool, error)
}
