package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/reconciler/internal/profile/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, userID string) (*domain.Profile, error) {
	return r.findOne(ctx, db, "id = ?", userID)
}

func (r *repo) FindByCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*domain.Profile, error) {
	return r.findOne(ctx, db, "stripe_customer_id = ?", customerID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg string) (*domain.Profile, error) {
	var item domain.Profile
	err := db.WithContext(ctx).Where(query, arg).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// LinkCustomer stores the platform customer id on the profile. A profile that
// is already linked to the same customer is left untouched.
func (r *repo) LinkCustomer(ctx context.Context, db *gorm.DB, userID, customerID string, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE profiles
		 SET stripe_customer_id = ?, updated_at = ?
		 WHERE id = ? AND (stripe_customer_id IS NULL OR stripe_customer_id <> ?)`,
		customerID,
		now,
		userID,
		customerID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM profiles WHERE id = ?`, userID).Scan(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrProfileNotFound
	}
	return nil
}

func (r *repo) SetSubscriptionProjection(ctx context.Context, db *gorm.DB, userID, status, plan string, now time.Time) error {
	return r.update(ctx, db,
		`UPDATE profiles
		 SET subscription_status = ?, current_plan = ?, updated_at = ?
		 WHERE id = ?`,
		status, plan, now, userID,
	)
}

func (r *repo) SetSubscriptionStatus(ctx context.Context, db *gorm.DB, userID, status string, now time.Time) error {
	return r.update(ctx, db,
		`UPDATE profiles
		 SET subscription_status = ?, updated_at = ?
		 WHERE id = ?`,
		status, now, userID,
	)
}

func (r *repo) SetPartnershipTier(ctx context.Context, db *gorm.DB, userID, tier string, now time.Time) error {
	return r.update(ctx, db,
		`UPDATE profiles
		 SET partnership_tier = ?, updated_at = ?
		 WHERE id = ?`,
		tier, now, userID,
	)
}

func (r *repo) update(ctx context.Context, db *gorm.DB, query string, args ...any) error {
	res := db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrProfileNotFound
	}
	return nil
}
