// services/code_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"invitation-service/models"
	"invitation-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrCodeNotFound     = errors.New("invitation code not found")
	ErrCodeNotActive    = errors.New("invitation code is not active")
	ErrReferrerInactive = errors.New("referrer is no longer active")
	ErrMemberExists     = errors.New("member already exists for this product")
)

// CodeService issues, validates and redeems invitation codes. Redeeming
// a referral-type code is what creates the referral edge the reward
// engine later acts on.
type CodeService struct {
	DB    *gorm.DB
	Email *EmailService
	Audit *AuditService
}

func NewCodeService(db *gorm.DB, email *EmailService, audit *AuditService) *CodeService {
	return &CodeService{DB: db, Email: email, Audit: audit}
}

type CodeOptions struct {
	CodeType            models.InvitationCodeType
	RequestID           *string
	IssuedToEmail       *string
	CreatedBy           *string
	GeneratedByMemberID *string
}

// GenerateCode creates a new single-use code for a product.
func (s *CodeService) GenerateCode(ctx context.Context, product *models.Product, opts CodeOptions) (*models.InvitationCode, error) {
	codeType := opts.CodeType
	if codeType == "" {
		codeType = models.CodeTypeStandard
	}

	code := &models.InvitationCode{
		ID:                  uuid.NewString(),
		ProductID:           product.ID,
		Code:                utils.GenerateInvitationCode(product.Slug),
		CodeType:            codeType,
		Status:              models.CodeStatusActive,
		RequestID:           opts.RequestID,
		IssuedToEmail:       opts.IssuedToEmail,
		CreatedBy:           opts.CreatedBy,
		GeneratedByMemberID: opts.GeneratedByMemberID,
	}

	if err := s.DB.WithContext(ctx).Create(code).Error; err != nil {
		return nil, fmt.Errorf("create invitation code: %w", err)
	}
	return code, nil
}

// ValidationResult is what public callers learn about a code before
// redeeming it.
type ValidationResult struct {
	Valid         bool                      `json:"valid"`
	CodeType      models.InvitationCodeType `json:"code_type,omitempty"`
	TrialDays     int                       `json:"trial_days,omitempty"`
	IssuedToEmail *string                   `json:"issued_to_email,omitempty"`
	ProductSlug   string                    `json:"product_slug,omitempty"`
	Error         string                    `json:"error,omitempty"`
}

// ValidateCode checks a code without consuming it. A referral code whose
// generating member is no longer active is invalid — the decision is
// explicit and logged, not silently swallowed at redeem time.
func (s *CodeService) ValidateCode(ctx context.Context, rawCode string) (*ValidationResult, error) {
	var code models.InvitationCode
	err := s.DB.WithContext(ctx).Preload("Product").
		First(&code, "code = ?", strings.ToUpper(rawCode)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ValidationResult{Valid: false, Error: "Code not found"}, nil
		}
		return nil, fmt.Errorf("load invitation code: %w", err)
	}

	if code.Status != models.CodeStatusActive {
		return &ValidationResult{Valid: false, Error: fmt.Sprintf("Code is %s", code.Status)}, nil
	}
	if code.Product == nil {
		return nil, fmt.Errorf("invitation code %s has no product", code.ID)
	}

	if code.CodeType == models.CodeTypeReferral && code.GeneratedByMemberID != nil {
		var referrer models.Member
		err := s.DB.WithContext(ctx).First(&referrer, "id = ?", *code.GeneratedByMemberID).Error
		if err != nil || referrer.Status != models.MemberStatusActive {
			log.Printf("🚫 [CODE] referral code %s rejected: referrer %s not active", code.Code, *code.GeneratedByMemberID)
			return &ValidationResult{Valid: false, Error: "Referrer is no longer active"}, nil
		}
	}

	return &ValidationResult{
		Valid:         true,
		CodeType:      code.CodeType,
		TrialDays:     code.Product.TrialDays,
		IssuedToEmail: code.IssuedToEmail,
		ProductSlug:   code.Product.Slug,
	}, nil
}

// RedeemCode consumes an active code and creates the member, plus the
// referral edge when the code is referral-typed. The member, the code
// flip and the referral row commit together.
func (s *CodeService) RedeemCode(ctx context.Context, rawCode, memberEmail, memberName, stripeCustomerID string) (*models.Member, error) {
	var code models.InvitationCode
	err := s.DB.WithContext(ctx).Preload("Product").
		First(&code, "code = ? AND status = ?", strings.ToUpper(rawCode), models.CodeStatusActive).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCodeNotActive
		}
		return nil, fmt.Errorf("load invitation code: %w", err)
	}
	if code.Product == nil {
		return nil, fmt.Errorf("invitation code %s has no product", code.ID)
	}
	product := code.Product

	email := strings.ToLower(memberEmail)

	var existing models.Member
	err = s.DB.WithContext(ctx).First(&existing, "product_id = ? AND email = ?", product.ID, email).Error
	if err == nil {
		return nil, ErrMemberExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check existing member: %w", err)
	}

	var referredByMemberID *string
	if code.CodeType == models.CodeTypeReferral && code.GeneratedByMemberID != nil {
		var referrer models.Member
		err := s.DB.WithContext(ctx).First(&referrer, "id = ?", *code.GeneratedByMemberID).Error
		if err != nil || referrer.Status != models.MemberStatusActive {
			log.Printf("🚫 [CODE] redeem of %s rejected: referrer %s not active", code.Code, *code.GeneratedByMemberID)
			return nil, ErrReferrerInactive
		}
		referredByMemberID = code.GeneratedByMemberID
	}

	now := time.Now()
	trialEndsAt := now.AddDate(0, 0, product.TrialDays)
	referralCode := utils.GenerateReferralCode(memberName)

	member := &models.Member{
		ID:                 uuid.NewString(),
		ProductID:          product.ID,
		Email:              email,
		Name:               memberName,
		InvitationCodeID:   &code.ID,
		ReferredByMemberID: referredByMemberID,
		ReferralCode:       &referralCode,
		TrialEndsAt:        &trialEndsAt,
		Status:             models.MemberStatusTrial,
	}
	if stripeCustomerID != "" {
		member.StripeCustomerID = &stripeCustomerID
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(member).Error; err != nil {
			return fmt.Errorf("create member: %w", err)
		}

		// Guarded flip so two concurrent redeems of the same code
		// cannot both succeed.
		res := tx.Model(&models.InvitationCode{}).
			Where("id = ? AND status = ?", code.ID, models.CodeStatusActive).
			Updates(map[string]interface{}{
				"status":                models.CodeStatusRedeemed,
				"redeemed_by_member_id": member.ID,
				"redeemed_at":           now,
			})
		if res.Error != nil {
			return fmt.Errorf("mark code redeemed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrCodeNotActive
		}

		if referredByMemberID != nil {
			referral := &models.Referral{
				ID:                  uuid.NewString(),
				ProductID:           product.ID,
				ReferrerMemberID:    *referredByMemberID,
				ReferredMemberID:    member.ID,
				ReferralCodeUsed:    code.Code,
				QualificationStatus: models.QualificationPending,
				RewardStatus:        models.RewardPending,
				// Cap accounting buckets by the year the edge was
				// created, not the year of crediting.
				RewardYear: now.Year(),
			}
			if err := tx.Create(referral).Error; err != nil {
				return fmt.Errorf("create referral edge: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("🎟️ [CODE] %s redeemed by %s (member %s)", code.Code, email, member.ID)
	return member, nil
}

// --- Fiber handlers ---

// ValidateCodeHandler handles POST /api/v1/codes/validate
func (s *CodeService) ValidateCodeHandler(c *fiber.Ctx) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.BodyParser(&req); err != nil || req.Code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "code is required"})
	}

	result, err := s.ValidateCode(c.Context(), req.Code)
	if err != nil {
		log.Printf("❌ [CODE] validate failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to validate code"})
	}
	return c.JSON(result)
}

// RedeemCodeHandler handles POST /api/v1/codes/redeem
func (s *CodeService) RedeemCodeHandler(c *fiber.Ctx) error {
	var req struct {
		Code             string `json:"code"`
		Email            string `json:"email"`
		Name             string `json:"name"`
		StripeCustomerID string `json:"stripe_customer_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.Code == "" || req.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "code and email are required"})
	}

	member, err := s.RedeemCode(c.Context(), req.Code, req.Email, req.Name, req.StripeCustomerID)
	if err != nil {
		switch {
		case errors.Is(err, ErrCodeNotActive), errors.Is(err, ErrCodeNotFound):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid or inactive code"})
		case errors.Is(err, ErrReferrerInactive):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Referrer is no longer active"})
		case errors.Is(err, ErrMemberExists):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Member already exists for this product"})
		default:
			log.Printf("❌ [CODE] redeem failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to redeem code"})
		}
	}

	return c.JSON(fiber.Map{
		"success":       true,
		"member_id":     member.ID,
		"referral_code": member.ReferralCode,
	})
}

// GenerateCodeHandler handles POST /admin/products/:id/codes
func (s *CodeService) GenerateCodeHandler(c *fiber.Ctx) error {
	var product models.Product
	if err := s.DB.First(&product, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Product not found"})
	}

	var req struct {
		CodeType      models.InvitationCodeType `json:"code_type"`
		IssuedToEmail *string                   `json:"issued_to_email"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	adminID, _ := c.Locals("admin_user_id").(string)
	code, err := s.GenerateCode(c.Context(), &product, CodeOptions{
		CodeType:      req.CodeType,
		IssuedToEmail: req.IssuedToEmail,
		CreatedBy:     &adminID,
	})
	if err != nil {
		log.Printf("❌ [CODE] generate failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate code"})
	}

	if s.Audit != nil {
		s.Audit.Record(c, models.AuditCodeGenerated, "invitation_codes", &code.ID, fiber.Map{"code": code.Code})
	}
	return c.Status(fiber.StatusCreated).JSON(code)
}

// RevokeCodeHandler handles POST /admin/codes/:id/revoke
func (s *CodeService) RevokeCodeHandler(c *fiber.Ctx) error {
	id := c.Params("id")
	res := s.DB.Model(&models.InvitationCode{}).
		Where("id = ? AND status = ?", id, models.CodeStatusActive).
		Update("status", models.CodeStatusRevoked)
	if res.Error != nil {
		log.Printf("❌ [CODE] revoke failed: %v", res.Error)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to revoke code"})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Code is not active"})
	}

	if s.Audit != nil {
		s.Audit.Record(c, models.AuditCodeRevoked, "invitation_codes", &id, nil)
	}
	return c.JSON(fiber.Map{"success": true})
}

// ListCodesHandler handles GET /admin/codes
func (s *CodeService) ListCodesHandler(c *fiber.Ctx) error {
	query := s.DB.Model(&models.InvitationCode{}).Order("created_at DESC")
	if productID := c.Query("product_id"); productID != "" {
		query = query.Where("product_id = ?", productID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var codes []models.InvitationCode
	if err := query.Limit(200).Find(&codes).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list codes"})
	}
	return c.JSON(codes)
}
