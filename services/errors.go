package services

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Stable machine-readable codes surfaced to callers. Retrying a business-rule
// rejection with unchanged input never succeeds; only RETRY_CLAIM is worth an
// automatic retry from the caller's side.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeRateLimited          = "RATE_LIMITED"
	CodeReferralCodeNotFound = "REFERRAL_CODE_NOT_FOUND"
	CodeSelfReferral         = "SELF_REFERRAL"
	CodeReferralCapReached   = "REFERRAL_CAP_REACHED"
	CodeEventNotFound        = "EVENT_NOT_FOUND"
	CodeWebhookNotConfigured = "WEBHOOK_NOT_CONFIGURED"
	CodeRetryClaim           = "RETRY_CLAIM"
)

// ClaimError carries the stable code plus the HTTP status class it maps to.
type ClaimError struct {
	Code              string `json:"code"`
	Status            int    `json:"-"`
	Message           string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errInvalidRequest(msg string) *ClaimError {
	return &ClaimError{Code: CodeInvalidRequest, Status: fiber.StatusBadRequest, Message: msg}
}

func errRateLimited(retryAfter int) *ClaimError {
	return &ClaimError{
		Code:              CodeRateLimited,
		Status:            fiber.StatusTooManyRequests,
		Message:           "too many requests, slow down",
		RetryAfterSeconds: retryAfter,
	}
}

func errCodeNotFound() *ClaimError {
	return &ClaimError{Code: CodeReferralCodeNotFound, Status: fiber.StatusNotFound, Message: "referral code not found"}
}

func errSelfReferral() *ClaimError {
	return &ClaimError{Code: CodeSelfReferral, Status: fiber.StatusBadRequest, Message: "users cannot refer themselves"}
}

func errCapReached() *ClaimError {
	return &ClaimError{Code: CodeReferralCapReached, Status: fiber.StatusBadRequest, Message: "referrer has reached the referral cap"}
}

func errRetryClaim() *ClaimError {
	return &ClaimError{Code: CodeRetryClaim, Status: fiber.StatusConflict, Message: "claim conflicted with a concurrent request, retry"}
}

// Replay/test trigger sentinels.
var (
	ErrEventNotFound        = errors.New("event not found")
	ErrWebhookNotConfigured = errors.New("tenant has no webhook URL configured")
)
