package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Verifier authenticates raw request bodies.
type Verifier interface {
	Verify(payload []byte, signature string) (*InboundEvent, error)
	// Parse decodes a payload that was verified earlier, without checking a signature.
	Parse(payload []byte) (*InboundEvent, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, event *InboundEvent) (Outcome, error)
}

type Repository interface {
	RecordEvent(ctx context.Context, db *gorm.DB, record *EventRecord) (bool, error)
	RecordFailure(ctx context.Context, db *gorm.DB, record *FailureRecord) error
	FindLatestFailure(ctx context.Context, db *gorm.DB, eventID string) (*FailureRecord, error)
	MarkReplayed(ctx context.Context, db *gorm.DB, id snowflake.ID, replayedAt time.Time) error
}

type Service interface {
	// Ingest verifies, deduplicates and reconciles one webhook delivery.
	Ingest(ctx context.Context, payload []byte, signature string) (*IngestResult, error)
	// Replay re-runs the most recent failure recorded for eventID.
	Replay(ctx context.Context, eventID string) (*IngestResult, error)
}
