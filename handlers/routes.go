// handlers/routes.go
package handlers

import (
	"invitation-service/middleware"
	"invitation-service/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Services bundles everything the routes need.
type Services struct {
	Codes    *services.CodeService
	Requests *services.RequestService
	Members  *services.MemberService
	Products *services.ProductService
	Webhooks *services.WebhookService
	Audit    *services.AuditService
}

// SetupRoutes wires the public product-scoped API, the Stripe webhooks
// and the staff admin API.
func SetupRoutes(app *fiber.App, db *gorm.DB, adminToken string, svc Services) {
	// Stripe signs these itself; no API key involved.
	app.Post("/api/v1/webhooks/stripe/:productSlug", svc.Webhooks.StripeHandler)

	// External scheduler trigger, guarded by CRON_SECRET.
	app.Post("/api/cron/process-referrals", svc.Webhooks.CronHandler)

	// 🔑 Product-scoped API — authenticated by per-product API key
	v1 := app.Group("/api/v1", middleware.APIKeyAuth(db))
	v1.Post("/codes/validate", svc.Codes.ValidateCodeHandler)
	v1.Post("/codes/redeem", svc.Codes.RedeemCodeHandler)
	v1.Post("/requests", svc.Requests.CreateHandler)
	v1.Get("/members/:memberId/referrals", svc.Members.ReferralsHandler)

	// 🔐 Staff admin API — shared service token + forwarded staff id
	admin := app.Group("/admin", middleware.AdminAuth(adminToken))

	admin.Get("/products", svc.Products.ListHandler)
	admin.Post("/products", svc.Products.CreateHandler)
	admin.Get("/products/:id", svc.Products.GetHandler)
	admin.Put("/products/:id", svc.Products.UpdateHandler)
	admin.Post("/products/:id/codes", svc.Codes.GenerateCodeHandler)
	admin.Post("/products/:id/api-keys", svc.Products.CreateAPIKeyHandler)
	admin.Get("/products/:id/api-keys", svc.Products.ListAPIKeysHandler)
	admin.Post("/api-keys/:id/deactivate", svc.Products.DeactivateAPIKeyHandler)

	admin.Get("/requests", svc.Requests.ListHandler)
	admin.Post("/requests/:id/approve", svc.Requests.ApproveHandler)
	admin.Post("/requests/:id/reject", svc.Requests.RejectHandler)

	admin.Get("/codes", svc.Codes.ListCodesHandler)
	admin.Post("/codes/:id/revoke", svc.Codes.RevokeCodeHandler)

	admin.Get("/members", svc.Members.ListHandler)
	admin.Get("/members/:id", svc.Members.GetHandler)
	admin.Post("/members/:id/suspend", svc.Members.SuspendHandler)
	admin.Post("/members/:id/reactivate", svc.Members.ReactivateHandler)

	admin.Get("/referrals", svc.Members.AdminReferralsHandler)
	admin.Get("/audit-logs", svc.Audit.ListHandler)
}
