package domain

import "time"

// Profile is the storefront user profile. The storefront owns the row; the
// reconciler only projects payment state onto it.
type Profile struct {
	ID                 string    `gorm:"primaryKey" json:"id"`
	Email              *string   `json:"email,omitempty"`
	StripeCustomerID   *string   `gorm:"column:stripe_customer_id" json:"stripe_customer_id,omitempty"`
	SubscriptionStatus *string   `gorm:"column:subscription_status" json:"subscription_status,omitempty"`
	CurrentPlan        *string   `gorm:"column:current_plan" json:"current_plan,omitempty"`
	PartnershipTier    *string   `gorm:"column:partnership_tier" json:"partnership_tier,omitempty"`
	UpdatedAt          time.Time `gorm:"not null" json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

// Tier returns the current partnership tier or "" when none is set.
func (p *Profile) Tier() string {
	if p == nil || p.PartnershipTier == nil {
		return ""
	}
	return *p.PartnershipTier
}
