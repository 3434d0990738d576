// handlers/user_routes.go
package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"referral-tracking-system/middleware"
	"referral-tracking-system/models"
	"referral-tracking-system/services"
)

// SetupUserRoutes registers the user upsert (the out-of-band write path that
// assigns referral codes) and the ledger balance read surface.
func SetupUserRoutes(app *fiber.App, users *services.UserService, ledger *services.LedgerService) {
	app.Post("/s/users/upsert", func(c *fiber.Ctx) error {
		tenant := middleware.TenantFromCtx(c)

		var req services.UpsertRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
				"code":  services.CodeInvalidRequest,
			})
		}

		user, err := users.Upsert(c.Context(), tenant.ID, req)
		if err != nil {
			return writeClaimError(c, err)
		}
		return c.JSON(user)
	})

	app.Get("/s/users/:externalUserId/rewards/balance", func(c *fiber.Ctx) error {
		tenant := middleware.TenantFromCtx(c)
		externalUserID := c.Params("externalUserId")

		var user models.User
		if err := users.DB.
			Where("tenant_id = ? AND external_user_id = ?", tenant.ID, externalUserID).
			First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}

		total, currency, err := ledger.SumByUser(c.Context(), tenant.ID, user.ID)
		if err != nil {
			log.Printf("❌ [LEDGER] failed to sum balance for user %s: %v", user.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to compute balance"})
		}
		return c.JSON(fiber.Map{
			"external_user_id": externalUserID,
			"total":            total,
			"currency":         currency,
		})
	})
}
