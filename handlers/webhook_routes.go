// handlers/webhook_routes.go
package handlers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"referral-tracking-system/middleware"
	"referral-tracking-system/services"
)

// SetupWebhookRoutes registers the admin-facing delivery triggers: replay an
// event, fire a test event, and inspect an event's delivery history.
func SetupWebhookRoutes(app *fiber.App, webhooks *services.WebhookService) {
	app.Post("/s/webhooks/replay", func(c *fiber.Ctx) error {
		tenant := middleware.TenantFromCtx(c)

		var req struct {
			EventID string `json:"event_id"`
		}
		if err := c.BodyParser(&req); err != nil || req.EventID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "event_id is required",
				"code":  services.CodeInvalidRequest,
			})
		}

		deliveryID, err := webhooks.Replay(c.Context(), tenant, req.EventID)
		if err != nil {
			return writeWebhookError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"delivery_id": deliveryID})
	})

	app.Post("/s/webhooks/test", func(c *fiber.Ctx) error {
		tenant := middleware.TenantFromCtx(c)

		deliveryID, err := webhooks.EnqueueTest(c.Context(), tenant)
		if err != nil {
			return writeWebhookError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"delivery_id": deliveryID})
	})

	app.Get("/s/webhooks/events/:eventId/deliveries", func(c *fiber.Ctx) error {
		tenant := middleware.TenantFromCtx(c)

		deliveries, err := webhooks.ListDeliveries(c.Context(), tenant.ID, c.Params("eventId"))
		if err != nil {
			return writeWebhookError(c, err)
		}
		return c.JSON(fiber.Map{"deliveries": deliveries})
	})
}

func writeWebhookError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrEventNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "event not found",
			"code":  services.CodeEventNotFound,
		})
	case errors.Is(err, services.ErrWebhookNotConfigured):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "tenant has no webhook URL configured",
			"code":  services.CodeWebhookNotConfigured,
		})
	}
	log.Printf("❌ [WEBHOOK] internal error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error",
	})
}
