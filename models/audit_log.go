// models/audit_log.go
package models

import "time"

type AuditAction string

const (
	AuditRequestApproved   AuditAction = "request_approved"
	AuditRequestRejected   AuditAction = "request_rejected"
	AuditCodeGenerated     AuditAction = "code_generated"
	AuditCodeRevoked       AuditAction = "code_revoked"
	AuditMemberSuspended   AuditAction = "member_suspended"
	AuditMemberReactivated AuditAction = "member_reactivated"
	AuditProductUpdated    AuditAction = "product_updated"
)

// AuditLog records a staff action. Append-only.
type AuditLog struct {
	ID          string      `gorm:"primaryKey;type:uuid" json:"id"`
	AdminUserID string      `gorm:"index;not null" json:"admin_user_id"`
	ActionType  AuditAction `gorm:"not null;index" json:"action_type"`
	TargetTable string      `gorm:"not null" json:"target_table"`
	TargetID    *string     `json:"target_id,omitempty"`
	Details     string      `gorm:"type:text" json:"details,omitempty"` // JSON blob
	IPAddress   *string     `json:"ip_address,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
