package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

type Referral struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	ReferrerUserID string       `gorm:"not null" json:"referrer_user_id"`
	ReferredUserID string       `gorm:"not null;uniqueIndex" json:"referred_user_id"`
	Status         string       `gorm:"not null" json:"status"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
}

func (Referral) TableName() string { return "referrals" }

type Repository interface {
	// CompleteForUser completes the pending referral of referredUserID. It
	// reports false when there is none or it was already completed.
	CompleteForUser(ctx context.Context, db *gorm.DB, referredUserID string, now time.Time) (bool, error)
}
