package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reconciler/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// RecordEvent inserts the ledger row and reports whether this delivery is
// the first one for the event id. A concurrent insert of the same id blocks
// on the unique index until the other transaction finishes.
func (r *repo) RecordEvent(ctx context.Context, db *gorm.DB, record *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (id, event_id, event_type, first_seen_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (event_id) DO NOTHING`,
		record.ID,
		record.EventID,
		record.EventType,
		record.FirstSeenAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) RecordFailure(ctx context.Context, db *gorm.DB, record *domain.FailureRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_failures (id, event_id, event_type, payload, error_message, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.EventID,
		record.EventType,
		record.Payload,
		record.ErrorMessage,
		record.RecordedAt,
	).Error
}

func (r *repo) FindLatestFailure(ctx context.Context, db *gorm.DB, eventID string) (*domain.FailureRecord, error) {
	var item domain.FailureRecord
	err := db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("recorded_at DESC").
		Order("id DESC").
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) MarkReplayed(ctx context.Context, db *gorm.DB, id snowflake.ID, replayedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_failures
		 SET replayed_at = ?
		 WHERE id = ?`,
		replayedAt,
		id,
	).Error
}
