package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reconciler/internal/emailqueue/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Enqueue(ctx context.Context, db *gorm.DB, entry *domain.Entry) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO email_queue (
			id, email_type, recipient, template_data, dedupe_key, status, attempts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		entry.ID,
		entry.EmailType,
		entry.Recipient,
		entry.TemplateData,
		entry.DedupeKey,
		entry.Status,
		entry.Attempts,
		entry.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ClaimPending(ctx context.Context, db *gorm.DB, limit, maxAttempts int) ([]domain.Entry, error) {
	q := db.WithContext(ctx).
		Where("status = ? AND attempts < ?", domain.StatusPending, maxAttempts).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit)
	if db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	var items []domain.Entry
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, sentAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE email_queue
		 SET status = ?, sent_at = ?, attempts = attempts + 1, last_error = NULL
		 WHERE id = ?`,
		domain.StatusSent,
		sentAt,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, terminal bool) error {
	status := domain.StatusPending
	if terminal {
		status = domain.StatusFailed
	}
	return db.WithContext(ctx).Exec(
		`UPDATE email_queue
		 SET status = ?, attempts = attempts + 1, last_error = ?
		 WHERE id = ?`,
		status,
		message,
		id,
	).Error
}
