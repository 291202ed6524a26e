package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/reconciler/internal/referral/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) CompleteForUser(ctx context.Context, db *gorm.DB, referredUserID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE referrals
		 SET status = ?, completed_at = ?
		 WHERE referred_user_id = ? AND status = ?`,
		domain.StatusCompleted,
		now,
		referredUserID,
		domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
