// models/invitation_code.go
package models

import "time"

type InvitationCodeType string

const (
	CodeTypeStandard InvitationCodeType = "standard"
	CodeTypeReferral InvitationCodeType = "referral"
	CodeTypeSales    InvitationCodeType = "sales"
)

type InvitationCodeStatus string

const (
	CodeStatusActive   InvitationCodeStatus = "active"
	CodeStatusRedeemed InvitationCodeStatus = "redeemed"
	CodeStatusRevoked  InvitationCodeStatus = "revoked"
)

// InvitationCode is a single-use code that lets someone become a member
// of a product. Referral-type codes carry the generating member, which
// becomes the referrer when the code is redeemed.
type InvitationCode struct {
	ID        string               `gorm:"primaryKey;type:uuid" json:"id"`
	ProductID string               `gorm:"index;not null" json:"product_id"`
	Code      string               `gorm:"uniqueIndex;not null" json:"code"`
	CodeType  InvitationCodeType   `gorm:"not null;default:'standard'" json:"code_type"`
	Status    InvitationCodeStatus `gorm:"not null;default:'active';index" json:"status"`

	RequestID     *string `gorm:"index" json:"request_id,omitempty"`
	IssuedToEmail *string `json:"issued_to_email,omitempty"`
	CreatedBy     *string `json:"created_by,omitempty"`

	GeneratedByMemberID *string    `gorm:"index" json:"generated_by_member_id,omitempty"`
	RedeemedByMemberID  *string    `json:"redeemed_by_member_id,omitempty"`
	RedeemedAt          *time.Time `json:"redeemed_at,omitempty"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`

	Timestamps
}
