package middleware

import (
	"net/http/httptest"
	"testing"

	"invitation-service/models"
	"invitation-service/utils"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupApp(t *testing.T) (*fiber.App, *gorm.DB, string) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Product{}, &models.APIKey{}))

	product := &models.Product{ID: uuid.NewString(), Slug: "velorum", Name: "Velorum"}
	require.NoError(t, db.Create(product).Error)

	plaintext, hash := utils.GenerateAPIKey()
	require.NoError(t, db.Create(&models.APIKey{
		ID: uuid.NewString(), ProductID: product.ID,
		KeyHash: hash, Name: "test", IsActive: true,
	}).Error)

	app := fiber.New()
	app.Get("/protected", APIKeyAuth(db), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"product_slug": c.Locals("product_slug")})
	})
	return app, db, plaintext
}

func TestAPIKeyAuthAcceptsValidKey(t *testing.T) {
	app, _, key := setupApp(t)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAPIKeyAuthRejectsBadKey(t *testing.T) {
	app, _, _ := setupApp(t)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer vis_wrong")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAPIKeyAuthRejectsMissingHeader(t *testing.T) {
	app, _, _ := setupApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/protected", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAPIKeyAuthRejectsInactiveKey(t *testing.T) {
	app, db, key := setupApp(t)
	require.NoError(t, db.Model(&models.APIKey{}).
		Where("key_hash = ?", utils.HashAPIKey(key)).
		Update("is_active", false).Error)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+key)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
