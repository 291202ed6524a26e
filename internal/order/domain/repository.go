package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Upsert creates the order for its session or refreshes the payment
	// columns of the existing one, and returns the stored row id.
	Upsert(ctx context.Context, db *gorm.DB, order *Order) (snowflake.ID, error)
	FindBySessionID(ctx context.Context, db *gorm.DB, sessionID string) (*Order, error)
	CountPaidForUserExcluding(ctx context.Context, db *gorm.DB, userID, sessionID string) (int64, error)
}
