package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// Upsert inserts the purchase or moves an existing one to its status. A
	// purchase that already succeeded is never written again.
	Upsert(ctx context.Context, db *gorm.DB, purchase *Purchase) (UpsertResult, error)
}
