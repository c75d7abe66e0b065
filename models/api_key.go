// models/api_key.go
package models

import "time"

// APIKey authenticates product-scoped API callers. Only the sha256 hash
// is stored; the plaintext key is shown once at creation.
type APIKey struct {
	ID         string     `gorm:"primaryKey;type:uuid" json:"id"`
	ProductID  string     `gorm:"index;not null" json:"product_id"`
	KeyHash    string     `gorm:"uniqueIndex;not null" json:"-"`
	Name       string     `gorm:"not null" json:"name"`
	IsActive   bool       `gorm:"default:true" json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedBy  *string    `json:"created_by,omitempty"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`

	Timestamps
}
