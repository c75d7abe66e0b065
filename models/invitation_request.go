// models/invitation_request.go
package models

import "time"

type InvitationRequestStatus string

const (
	RequestStatusPending  InvitationRequestStatus = "pending"
	RequestStatusApproved InvitationRequestStatus = "approved"
	RequestStatusRejected InvitationRequestStatus = "rejected"
)

// InvitationRequest is a signup request awaiting staff review.
type InvitationRequest struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	ProductID string `gorm:"index;not null" json:"product_id"`
	Email     string `gorm:"index;not null" json:"email"`
	Name      string `json:"name,omitempty"`

	// Optional referral code supplied at signup time
	ReferredByCode *string `json:"referred_by_code,omitempty"`

	Status          InvitationRequestStatus `gorm:"not null;default:'pending';index" json:"status"`
	ReviewedBy      *string                 `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time              `json:"reviewed_at,omitempty"`
	RejectionReason *string                 `json:"rejection_reason,omitempty"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`

	Timestamps
}
