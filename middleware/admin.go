// middleware/admin.go
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AdminAuth guards the staff routes with a shared token. The dashboard
// sits behind its own session layer; this service only checks the
// service-to-service token and the staff user id it forwards.
func AdminAuth(adminToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		auth := c.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing or invalid Authorization header"})
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid admin token"})
		}

		adminUserID := c.Get("X-Admin-User-ID")
		if adminUserID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing X-Admin-User-ID header"})
		}

		c.Locals("admin_user_id", adminUserID)
		return c.Next()
	}
}
