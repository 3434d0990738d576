// middleware/auth.go
package middleware

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"referral-tracking-system/models"
)

// TenantAuthMiddleware resolves the calling tenant from the X-Api-Key header
// and attaches it to the request context. Every route behind it is
// tenant-scoped; handlers read the tenant via c.Locals("tenant").
func TenantAuthMiddleware(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := c.Get("X-Api-Key")
		if apiKey == "" {
			log.Printf("🚫 [TENANT_AUTH] Missing X-Api-Key for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing API key",
			})
		}

		var tenant models.Tenant
		if err := db.Where("api_key = ?", apiKey).First(&tenant).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("❌ [TENANT_AUTH] Unknown API key for %s (prefix: %.6s...)", c.Path(), apiKey)
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "invalid API key",
				})
			}
			log.Printf("❌ [TENANT_AUTH] DB error resolving tenant: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to resolve tenant",
			})
		}

		c.Locals("tenant", &tenant)
		return c.Next()
	}
}

// TenantFromCtx is the handler-side accessor for the authenticated tenant.
func TenantFromCtx(c *fiber.Ctx) *models.Tenant {
	tenant, _ := c.Locals("tenant").(*models.Tenant)
	return tenant
}
