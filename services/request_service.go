// services/request_service.go
package services

import (
	"log"
	"time"

	"invitation-service/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestService manages the staff review queue for signup requests.
// Approval issues an invitation code and emails it to the requester.
type RequestService struct {
	DB    *gorm.DB
	Codes *CodeService
	Email *EmailService
	Audit *AuditService
}

func NewRequestService(db *gorm.DB, codes *CodeService, email *EmailService, audit *AuditService) *RequestService {
	return &RequestService{DB: db, Codes: codes, Email: email, Audit: audit}
}

// CreateHandler handles POST /api/v1/requests (product-scoped via API key)
func (s *RequestService) CreateHandler(c *fiber.Ctx) error {
	productID, _ := c.Locals("product_id").(string)
	if productID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing product scope"})
	}

	var req struct {
		Email          string  `json:"email"`
		Name           string  `json:"name"`
		ReferredByCode *string `json:"referred_by_code"`
	}
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "email is required"})
	}

	request := &models.InvitationRequest{
		ID:             uuid.NewString(),
		ProductID:      productID,
		Email:          req.Email,
		Name:           req.Name,
		ReferredByCode: req.ReferredByCode,
		Status:         models.RequestStatusPending,
	}
	if err := s.DB.Create(request).Error; err != nil {
		log.Printf("❌ [REQUEST] create failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create request"})
	}

	return c.Status(fiber.StatusCreated).JSON(request)
}

// ListHandler handles GET /admin/requests
func (s *RequestService) ListHandler(c *fiber.Ctx) error {
	query := s.DB.Model(&models.InvitationRequest{}).Preload("Product").Order("created_at DESC")
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if productID := c.Query("product_id"); productID != "" {
		query = query.Where("product_id = ?", productID)
	}

	var requests []models.InvitationRequest
	if err := query.Limit(200).Find(&requests).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list requests"})
	}
	return c.JSON(requests)
}

// ApproveHandler handles POST /admin/requests/:id/approve
func (s *RequestService) ApproveHandler(c *fiber.Ctx) error {
	var request models.InvitationRequest
	if err := s.DB.Preload("Product").First(&request, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Request not found"})
	}
	if request.Product == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Request has no product"})
	}

	adminID, _ := c.Locals("admin_user_id").(string)
	now := time.Now()

	// Guarded flip: only a pending request can be approved, and only
	// once, even with two reviewers clicking at the same time.
	res := s.DB.Model(&models.InvitationRequest{}).
		Where("id = ? AND status = ?", request.ID, models.RequestStatusPending).
		Updates(map[string]interface{}{
			"status":      models.RequestStatusApproved,
			"reviewed_by": adminID,
			"reviewed_at": now,
		})
	if res.Error != nil {
		log.Printf("❌ [REQUEST] approve failed: %v", res.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to approve request"})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Request is not pending"})
	}

	code, err := s.Codes.GenerateCode(c.Context(), request.Product, CodeOptions{
		CodeType:      models.CodeTypeStandard,
		RequestID:     &request.ID,
		IssuedToEmail: &request.Email,
		CreatedBy:     &adminID,
	})
	if err != nil {
		log.Printf("❌ [REQUEST] code issue failed for request %s: %v", request.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Request approved but code issuance failed"})
	}

	if s.Email != nil {
		s.Email.SendInvitationCode(request.Email, request.Name, request.Product.Name, code.Code, request.Product.TrialDays)
	}
	if s.Audit != nil {
		s.Audit.Record(c, models.AuditRequestApproved, "invitation_requests", &request.ID, fiber.Map{"code": code.Code})
	}

	log.Printf("✅ [REQUEST] %s approved, code %s issued to %s", request.ID, code.Code, request.Email)
	return c.JSON(fiber.Map{"success": true, "code": code})
}

// RejectHandler handles POST /admin/requests/:id/reject
func (s *RequestService) RejectHandler(c *fiber.Ctx) error {
	var request models.InvitationRequest
	if err := s.DB.Preload("Product").First(&request, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Request not found"})
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.BodyParser(&req)

	adminID, _ := c.Locals("admin_user_id").(string)
	now := time.Now()

	res := s.DB.Model(&models.InvitationRequest{}).
		Where("id = ? AND status = ?", request.ID, models.RequestStatusPending).
		Updates(map[string]interface{}{
			"status":           models.RequestStatusRejected,
			"reviewed_by":      adminID,
			"reviewed_at":      now,
			"rejection_reason": req.Reason,
		})
	if res.Error != nil {
		log.Printf("❌ [REQUEST] reject failed: %v", res.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to reject request"})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Request is not pending"})
	}

	if s.Email != nil && request.Product != nil {
		s.Email.SendRequestRejected(request.Email, request.Name, request.Product.Name, req.Reason)
	}
	if s.Audit != nil {
		s.Audit.Record(c, models.AuditRequestRejected, "invitation_requests", &request.ID, fiber.Map{"reason": req.Reason})
	}

	return c.JSON(fiber.Map{"success": true})
}
