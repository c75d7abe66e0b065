// models/referral.go
package models

import "time"

// QualificationStatus tracks whether the referred member has stayed paid
// long enough for the referral to count. Transitions are monotonic:
// pending is the only non-terminal state.
type QualificationStatus string

const (
	QualificationPending   QualificationStatus = "pending"
	QualificationQualified QualificationStatus = "qualified"
	// QualificationFailed is defined for churn-before-qualifying but is
	// not produced anywhere yet; a churned referred member leaves the
	// referral pending.
	QualificationFailed QualificationStatus = "failed"
)

// RewardStatus tracks the payout side of a referral. Once it leaves
// pending it is terminal.
type RewardStatus string

const (
	RewardPending   RewardStatus = "pending"
	RewardCredited  RewardStatus = "credited"
	RewardForfeited RewardStatus = "forfeited"
	RewardCapped    RewardStatus = "capped"
)

var qualificationTransitions = map[QualificationStatus][]QualificationStatus{
	QualificationPending: {QualificationQualified, QualificationFailed},
}

var rewardTransitions = map[RewardStatus][]RewardStatus{
	RewardPending: {RewardCredited, RewardForfeited, RewardCapped},
}

// CanTransitionTo reports whether s → next is an allowed qualification
// transition. Anything not listed (including self-transitions) is
// rejected, which shields the table from replayed events.
func (s QualificationStatus) CanTransitionTo(next QualificationStatus) bool {
	for _, allowed := range qualificationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the reward outcome is final.
func (s RewardStatus) Terminal() bool {
	return s != RewardPending
}

// CanTransitionTo reports whether s → next is an allowed reward
// transition.
func (s RewardStatus) CanTransitionTo(next RewardStatus) bool {
	for _, allowed := range rewardTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Referral is one edge from referrer to referred member, created exactly
// once when the referred member redeems a referral-type invitation code.
// RewardYear is the calendar year at creation time — cap accounting uses
// it, not the year of crediting. Referrals are never deleted.
type Referral struct {
	ID               string `gorm:"primaryKey;type:uuid" json:"id"`
	ProductID        string `gorm:"index;not null" json:"product_id"`
	ReferrerMemberID string `gorm:"index;not null" json:"referrer_member_id"`
	ReferredMemberID string `gorm:"uniqueIndex;not null" json:"referred_member_id"`
	ReferralCodeUsed string `gorm:"not null" json:"referral_code_used"`

	QualificationStatus QualificationStatus `gorm:"not null;default:'pending';index" json:"qualification_status"`
	QualifiedAt         *time.Time          `json:"qualified_at,omitempty"`

	RewardStatus     RewardStatus `gorm:"not null;default:'pending';index" json:"reward_status"`
	RewardCreditedAt *time.Time   `json:"reward_credited_at,omitempty"`
	RewardYear       int          `gorm:"not null;index" json:"reward_year"`

	Referrer *Member  `gorm:"foreignKey:ReferrerMemberID" json:"referrer,omitempty"`
	Referred *Member  `gorm:"foreignKey:ReferredMemberID" json:"referred,omitempty"`
	Product  *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
