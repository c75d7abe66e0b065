// models/product.go
package models

// EntityType indicates who the product is sold to
type EntityType string

const (
	EntityTypeIndividual   EntityType = "individual"
	EntityTypeOrganization EntityType = "organization"
)

// ApprovalMode controls how invitation requests are reviewed
type ApprovalMode string

const (
	ApprovalModeManual ApprovalMode = "manual"
	ApprovalModeAuto   ApprovalMode = "auto"
	ApprovalModeSales  ApprovalMode = "sales"
)

// Product owns the referral policy for one product line. The policy
// fields are read-only inputs to the referral engine: they never change
// mid-evaluation.
type Product struct {
	ID           string       `gorm:"primaryKey;type:uuid" json:"id"`
	Slug         string       `gorm:"uniqueIndex;not null" json:"slug"`
	Name         string       `gorm:"not null" json:"name"`
	EntityType   EntityType   `gorm:"not null;default:'individual'" json:"entity_type"`
	ApprovalMode ApprovalMode `gorm:"not null;default:'manual'" json:"approval_mode"`

	TrialDays int `gorm:"default:14" json:"trial_days"`

	// Referral policy
	ReferralRewardMonths         int   `gorm:"default:1" json:"referral_reward_months"`
	ReferralCapPerYear           int   `gorm:"default:12" json:"referral_cap_per_year"`
	ReferralQualificationDays    int   `gorm:"default:30" json:"referral_qualification_days"`
	ReferralChargebackBufferDays int   `gorm:"default:14" json:"referral_chargeback_buffer_days"`
	MonthlyPriceCents            int64 `gorm:"default:2500" json:"monthly_price_cents"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	Timestamps
}

// RewardAmountCents is the credit posted per qualified referral,
// expressed in minor currency units.
func (p *Product) RewardAmountCents() int64 {
	months := p.ReferralRewardMonths
	if months < 1 {
		months = 1
	}
	return p.MonthlyPriceCents * int64(months)
}
