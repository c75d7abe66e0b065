// services/member_service.go
package services

import (
	"log"

	"invitation-service/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// MemberService covers the staff-facing member screens and the
// product-scoped member APIs.
type MemberService struct {
	DB    *gorm.DB
	Audit *AuditService
}

func NewMemberService(db *gorm.DB, audit *AuditService) *MemberService {
	return &MemberService{DB: db, Audit: audit}
}

// ListHandler handles GET /admin/members
func (s *MemberService) ListHandler(c *fiber.Ctx) error {
	query := s.DB.Model(&models.Member{}).Preload("Product").Order("created_at DESC")
	if productID := c.Query("product_id"); productID != "" {
		query = query.Where("product_id = ?", productID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var members []models.Member
	if err := query.Limit(200).Find(&members).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list members"})
	}
	return c.JSON(members)
}

// GetHandler handles GET /admin/members/:id
func (s *MemberService) GetHandler(c *fiber.Ctx) error {
	var member models.Member
	if err := s.DB.Preload("Product").First(&member, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Member not found"})
	}
	return c.JSON(member)
}

// ReferralsHandler handles GET /api/v1/members/:memberId/referrals —
// the referrals a member has made, with their reward outcomes.
func (s *MemberService) ReferralsHandler(c *fiber.Ctx) error {
	memberID := c.Params("memberId")

	var referrals []models.Referral
	err := s.DB.Preload("Referred").
		Where("referrer_member_id = ?", memberID).
		Order("created_at DESC").
		Find(&referrals).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list referrals"})
	}
	return c.JSON(referrals)
}

// AdminReferralsHandler handles GET /admin/referrals — the full
// referral table with filters for the dashboard screens.
func (s *MemberService) AdminReferralsHandler(c *fiber.Ctx) error {
	query := s.DB.Model(&models.Referral{}).
		Preload("Referrer").Preload("Referred").Preload("Product").
		Order("created_at DESC")
	if productID := c.Query("product_id"); productID != "" {
		query = query.Where("product_id = ?", productID)
	}
	if qs := c.Query("qualification_status"); qs != "" {
		query = query.Where("qualification_status = ?", qs)
	}
	if rs := c.Query("reward_status"); rs != "" {
		query = query.Where("reward_status = ?", rs)
	}

	var referrals []models.Referral
	if err := query.Limit(200).Find(&referrals).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list referrals"})
	}
	return c.JSON(referrals)
}

// SuspendHandler handles POST /admin/members/:id/suspend
func (s *MemberService) SuspendHandler(c *fiber.Ctx) error {
	return s.setStatus(c, models.MemberStatusSuspended, models.AuditMemberSuspended)
}

// ReactivateHandler handles POST /admin/members/:id/reactivate
func (s *MemberService) ReactivateHandler(c *fiber.Ctx) error {
	return s.setStatus(c, models.MemberStatusActive, models.AuditMemberReactivated)
}

func (s *MemberService) setStatus(c *fiber.Ctx, status models.MemberStatus, action models.AuditAction) error {
	id := c.Params("id")

	res := s.DB.Model(&models.Member{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		log.Printf("❌ [MEMBER] status update failed: %v", res.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update member"})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Member not found"})
	}

	if s.Audit != nil {
		s.Audit.Record(c, action, "members", &id, nil)
	}
	return c.JSON(fiber.Map{"success": true, "status": status})
}
