// services/product_service.go
package services

import (
	"log"

	"invitation-service/models"
	"invitation-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// ProductService is CRUD over products plus their referral policy.
type ProductService struct {
	DB    *gorm.DB
	Audit *AuditService
}

func NewProductService(db *gorm.DB, audit *AuditService) *ProductService {
	return &ProductService{DB: db, Audit: audit}
}

type productPayload struct {
	Name                         string              `json:"name"`
	EntityType                   models.EntityType   `json:"entity_type"`
	ApprovalMode                 models.ApprovalMode `json:"approval_mode"`
	TrialDays                    *int                `json:"trial_days"`
	ReferralRewardMonths         *int                `json:"referral_reward_months"`
	ReferralCapPerYear           *int                `json:"referral_cap_per_year"`
	ReferralQualificationDays    *int                `json:"referral_qualification_days"`
	ReferralChargebackBufferDays *int                `json:"referral_chargeback_buffer_days"`
	MonthlyPriceCents            *int64              `json:"monthly_price_cents"`
	IsActive                     *bool               `json:"is_active"`
}

func (p *productPayload) validate() string {
	for _, v := range []*int{p.TrialDays, p.ReferralRewardMonths, p.ReferralCapPerYear, p.ReferralQualificationDays, p.ReferralChargebackBufferDays} {
		if v != nil && *v < 0 {
			return "policy fields must be non-negative"
		}
	}
	if p.MonthlyPriceCents != nil && *p.MonthlyPriceCents < 0 {
		return "monthly_price_cents must be non-negative"
	}
	return ""
}

// CreateHandler handles POST /admin/products
func (s *ProductService) CreateHandler(c *fiber.Ctx) error {
	var req productPayload
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}
	if msg := req.validate(); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	product := &models.Product{
		ID:   uuid.NewString(),
		Slug: slug.Make(req.Name),
		Name: req.Name,
	}
	if req.EntityType != "" {
		product.EntityType = req.EntityType
	} else {
		product.EntityType = models.EntityTypeIndividual
	}
	if req.ApprovalMode != "" {
		product.ApprovalMode = req.ApprovalMode
	} else {
		product.ApprovalMode = models.ApprovalModeManual
	}
	applyPolicy(product, &req)

	if err := s.DB.Create(product).Error; err != nil {
		log.Printf("❌ [PRODUCT] create failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create product"})
	}
	return c.Status(fiber.StatusCreated).JSON(product)
}

// UpdateHandler handles PUT /admin/products/:id
func (s *ProductService) UpdateHandler(c *fiber.Ctx) error {
	var product models.Product
	if err := s.DB.First(&product, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Product not found"})
	}

	var req productPayload
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if msg := req.validate(); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	if req.Name != "" {
		product.Name = req.Name
	}
	if req.EntityType != "" {
		product.EntityType = req.EntityType
	}
	if req.ApprovalMode != "" {
		product.ApprovalMode = req.ApprovalMode
	}
	applyPolicy(&product, &req)

	if err := s.DB.Save(&product).Error; err != nil {
		log.Printf("❌ [PRODUCT] update failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update product"})
	}

	if s.Audit != nil {
		s.Audit.Record(c, models.AuditProductUpdated, "products", &product.ID, nil)
	}
	return c.JSON(product)
}

// ListHandler handles GET /admin/products
func (s *ProductService) ListHandler(c *fiber.Ctx) error {
	var products []models.Product
	if err := s.DB.Order("name").Find(&products).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list products"})
	}
	return c.JSON(products)
}

// GetHandler handles GET /admin/products/:id
func (s *ProductService) GetHandler(c *fiber.Ctx) error {
	var product models.Product
	if err := s.DB.First(&product, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Product not found"})
	}
	return c.JSON(product)
}

// CreateAPIKeyHandler handles POST /admin/products/:id/api-keys. The
// plaintext key appears in this response and nowhere else.
func (s *ProductService) CreateAPIKeyHandler(c *fiber.Ctx) error {
	var product models.Product
	if err := s.DB.First(&product, "id = ?", c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Product not found"})
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}

	plaintext, hash := utils.GenerateAPIKey()
	adminID, _ := c.Locals("admin_user_id").(string)
	key := &models.APIKey{
		ID:        uuid.NewString(),
		ProductID: product.ID,
		KeyHash:   hash,
		Name:      req.Name,
		IsActive:  true,
		CreatedBy: &adminID,
	}
	if err := s.DB.Create(key).Error; err != nil {
		log.Printf("❌ [PRODUCT] api key create failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create API key"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":   key.ID,
		"name": key.Name,
		"key":  plaintext,
	})
}

// ListAPIKeysHandler handles GET /admin/products/:id/api-keys
func (s *ProductService) ListAPIKeysHandler(c *fiber.Ctx) error {
	var keys []models.APIKey
	err := s.DB.Where("product_id = ?", c.Params("id")).Order("created_at DESC").Find(&keys).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list API keys"})
	}
	return c.JSON(keys)
}

// DeactivateAPIKeyHandler handles POST /admin/api-keys/:id/deactivate
func (s *ProductService) DeactivateAPIKeyHandler(c *fiber.Ctx) error {
	res := s.DB.Model(&models.APIKey{}).Where("id = ?", c.Params("id")).Update("is_active", false)
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to deactivate API key"})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "API key not found"})
	}
	return c.JSON(fiber.Map{"success": true})
}

func applyPolicy(product *models.Product, req *productPayload) {
	if req.TrialDays != nil {
		product.TrialDays = *req.TrialDays
	}
	if req.ReferralRewardMonths != nil {
		product.ReferralRewardMonths = *req.ReferralRewardMonths
	}
	if req.ReferralCapPerYear != nil {
		product.ReferralCapPerYear = *req.ReferralCapPerYear
	}
	if req.ReferralQualificationDays != nil {
		product.ReferralQualificationDays = *req.ReferralQualificationDays
	}
	if req.ReferralChargebackBufferDays != nil {
		product.ReferralChargebackBufferDays = *req.ReferralChargebackBufferDays
	}
	if req.MonthlyPriceCents != nil {
		product.MonthlyPriceCents = *req.MonthlyPriceCents
	}
	if req.IsActive != nil {
		product.IsActive = *req.IsActive
	}
}
