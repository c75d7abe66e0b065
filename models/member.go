// models/member.go
package models

import "time"

// MemberStatus mirrors the subscription lifecycle reported by Stripe
type MemberStatus string

const (
	MemberStatusTrial     MemberStatus = "trial"
	MemberStatusActive    MemberStatus = "active"
	MemberStatusChurned   MemberStatus = "churned"
	MemberStatusSuspended MemberStatus = "suspended"
)

// Member is a paid-or-trialing customer of one product.
// ReferredByMemberID is set once at creation (when a referral code is
// redeemed) and never changes — it establishes the referral edge.
// FirstPaidAt is set once, on the first successful subscription invoice.
type Member struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	ProductID string `gorm:"index:idx_members_product_email,unique;not null" json:"product_id"`
	Email     string `gorm:"index:idx_members_product_email,unique;not null" json:"email"`
	Name      string `json:"name,omitempty"`

	InvitationCodeID   *string `gorm:"index" json:"invitation_code_id,omitempty"`
	ReferredByMemberID *string `gorm:"index" json:"referred_by_member_id,omitempty"`

	// The member's own shareable referral code
	ReferralCode *string `gorm:"uniqueIndex" json:"referral_code,omitempty"`

	StripeCustomerID *string `gorm:"index" json:"stripe_customer_id,omitempty"`

	TrialEndsAt *time.Time   `json:"trial_ends_at,omitempty"`
	FirstPaidAt *time.Time   `json:"first_paid_at,omitempty"`
	Status      MemberStatus `gorm:"not null;default:'trial';index" json:"status"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`

	Timestamps
}
