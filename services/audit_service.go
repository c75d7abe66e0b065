// services/audit_service.go
package services

import (
	"encoding/json"
	"log"

	"invitation-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditService appends staff actions to the audit log. Failures are
// logged and swallowed: auditing never blocks the action itself.
type AuditService struct {
	DB *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{DB: db}
}

// Record writes one audit entry for the staff user attached to the
// request context.
func (s *AuditService) Record(c *fiber.Ctx, action models.AuditAction, targetTable string, targetID *string, details interface{}) {
	adminID, _ := c.Locals("admin_user_id").(string)
	if adminID == "" {
		adminID = "unknown"
	}

	var detailsJSON string
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			detailsJSON = string(b)
		}
	}

	ip := c.IP()
	entry := &models.AuditLog{
		ID:          uuid.NewString(),
		AdminUserID: adminID,
		ActionType:  action,
		TargetTable: targetTable,
		TargetID:    targetID,
		Details:     detailsJSON,
		IPAddress:   &ip,
	}

	if err := s.DB.Create(entry).Error; err != nil {
		log.Printf("⚠️ [AUDIT] failed to record %s: %v", action, err)
	}
}

// ListHandler handles GET /admin/audit-logs
func (s *AuditService) ListHandler(c *fiber.Ctx) error {
	query := s.DB.Model(&models.AuditLog{}).Order("created_at DESC")
	if action := c.Query("action"); action != "" {
		query = query.Where("action_type = ?", action)
	}

	var entries []models.AuditLog
	if err := query.Limit(500).Find(&entries).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list audit logs"})
	}
	return c.JSON(entries)
}
