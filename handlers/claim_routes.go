// handlers/claim_routes.go
package handlers

import (
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"referral-tracking-system/middleware"
	"referral-tracking-system/services"
)

type referralResponse struct {
	ID                     string    `json:"id"`
	ReferrerUserID         string    `json:"referrerUserId"`
	ReferredExternalUserID string    `json:"referredExternalUserId"`
	RefCodeUsed            string    `json:"refCodeUsed"`
	Status                 string    `json:"status"`
	CreatedAt              time.Time `json:"createdAt"`
}

type claimResponse struct {
	Referral referralResponse `json:"referral"`
	Rewards  struct {
		ReferrerReward *services.RewardAmount `json:"referrerReward"`
		ReferredReward *services.RewardAmount `json:"referredReward"`
	} `json:"rewards"`
	AlreadyProcessed bool `json:"alreadyProcessed"`
}

// SetupClaimRoutes registers the claim endpoint. Tenant auth is applied
// globally in main.
func SetupClaimRoutes(app *fiber.App, claims *services.ClaimService) {
	app.Post("/s/referrals/claim", func(c *fiber.Ctx) error {
		tenant := middleware.TenantFromCtx(c)

		var req services.ClaimRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
				"code":  services.CodeInvalidRequest,
			})
		}
		req.ClientIP = c.IP()

		result, err := claims.Claim(c.Context(), tenant, req)
		if err != nil {
			return writeClaimError(c, err)
		}

		resp := claimResponse{
			Referral: referralResponse{
				ID:                     result.Referral.ID,
				ReferrerUserID:         result.Referral.ReferrerUserID,
				ReferredExternalUserID: result.Referral.ReferredExternalUserID,
				RefCodeUsed:            result.Referral.ReferralCodeUsed,
				Status:                 string(result.Referral.Status),
				CreatedAt:              result.Referral.CreatedAt,
			},
			AlreadyProcessed: result.AlreadyProcessed,
		}
		resp.Rewards.ReferrerReward = result.ReferrerReward
		resp.Rewards.ReferredReward = result.ReferredReward

		status := fiber.StatusCreated
		if result.AlreadyProcessed {
			status = fiber.StatusOK
		}
		return c.Status(status).JSON(resp)
	})
}

// writeClaimError maps the error taxonomy to stable codes and HTTP statuses.
// Anything untyped is an internal error and deliberately unspecific.
func writeClaimError(c *fiber.Ctx, err error) error {
	var claimErr *services.ClaimError
	if errors.As(err, &claimErr) {
		if claimErr.Code == services.CodeRateLimited && claimErr.RetryAfterSeconds > 0 {
			c.Set("Retry-After", strconv.Itoa(claimErr.RetryAfterSeconds))
		}
		body := fiber.Map{"error": claimErr.Message, "code": claimErr.Code}
		if claimErr.RetryAfterSeconds > 0 {
			body["retry_after_seconds"] = claimErr.RetryAfterSeconds
		}
		return c.Status(claimErr.Status).JSON(body)
	}

	log.Printf("❌ [CLAIM] internal error: %v", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error processing claim",
	})
}
