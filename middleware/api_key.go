// middleware/api_key.go
package middleware

import (
	"log"
	"strings"
	"time"

	"invitation-service/models"
	"invitation-service/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// APIKeyAuth authenticates product-scoped API callers by the sha256 hash
// of their bearer key. The matched product is attached to the request
// context as product_id / product_slug.
func APIKeyAuth(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing or invalid Authorization header"})
		}

		keyHash := utils.HashAPIKey(strings.TrimPrefix(auth, "Bearer "))

		var key models.APIKey
		err := db.Preload("Product").First(&key, "key_hash = ?", keyHash).Error
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid API key"})
		}
		if !key.IsActive {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "API key is inactive"})
		}
		if key.Product == nil {
			log.Printf("❌ [AUTH] api key %s has no product", key.ID)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid API key"})
		}

		// Best-effort usage timestamp; failures never block the request.
		now := time.Now()
		if err := db.Model(&models.APIKey{}).Where("id = ?", key.ID).Update("last_used_at", now).Error; err != nil {
			log.Printf("⚠️ [AUTH] failed to touch last_used_at for key %s: %v", key.ID, err)
		}

		c.Locals("product_id", key.ProductID)
		c.Locals("product_slug", key.Product.Slug)
		c.Locals("api_key_id", key.ID)
		return c.Next()
	}
}
