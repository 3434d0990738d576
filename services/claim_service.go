package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"referral-tracking-system/models"
)

// Input bounds checked before anything else touches storage.
const (
	maxReferralCodeLength = 64
	maxExternalIDLength   = 128
)

// Per-window request budgets for the claim endpoint. The rate checks run
// before any lookup so abuse is bounded at the cheapest possible point.
const (
	claimsPerIPLimit   = int64(30)
	claimsPerUserLimit = int64(5)
	claimRateWindow    = time.Minute
)

// ClaimRequest is one inbound claim attempt.
type ClaimRequest struct {
	ReferralCode   string `json:"referralCode"`
	ReferredUserID string `json:"referredUserId"`
	ClientIP       string `json:"-"`
}

// RewardAmount is one side's granted reward as returned to the caller.
type RewardAmount struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// ClaimResult is the claim outcome. On an idempotent replay both reward fields
// are nil; rewards are never recomputed or re-returned; the caller already got
// them on the first successful call.
type ClaimResult struct {
	Referral         *models.Referral `json:"referral"`
	ReferrerReward   *RewardAmount    `json:"referrerReward"`
	ReferredReward   *RewardAmount    `json:"referredReward"`
	AlreadyProcessed bool             `json:"alreadyProcessed"`

	// event produced by a first-time claim; drives the post-commit enqueue.
	event *models.DomainEvent
}

// ClaimService orchestrates the whole claim: validation, rate checks, the
// idempotency fast path, one SERIALIZABLE transaction, and the post-commit
// webhook enqueue.
type ClaimService struct {
	DB       *gorm.DB
	Ledger   *LedgerService
	Events   *EventService
	Limiter  RateLimiter
	Webhooks *WebhookService
}

func NewClaimService(db *gorm.DB, ledger *LedgerService, events *EventService, limiter RateLimiter, webhooks *WebhookService) *ClaimService {
	return &ClaimService{DB: db, Ledger: ledger, Events: events, Limiter: limiter, Webhooks: webhooks}
}

// Claim processes one referral claim. Failure modes, in validation order:
// INVALID_REQUEST, RATE_LIMITED, REFERRAL_CODE_NOT_FOUND, SELF_REFERRAL,
// REFERRAL_CAP_REACHED. A serialization conflict is retried once in-process;
// if it conflicts again the caller gets RETRY_CLAIM and is expected to repeat
// the call (safe: the idempotency fast path absorbs the repeat).
func (s *ClaimService) Claim(ctx context.Context, tenant *models.Tenant, req ClaimRequest) (*ClaimResult, error) {
	if req.ReferralCode == "" || len(req.ReferralCode) > maxReferralCodeLength {
		return nil, errInvalidRequest("referralCode is required and must be at most 64 characters")
	}
	if req.ReferredUserID == "" || len(req.ReferredUserID) > maxExternalIDLength {
		return nil, errInvalidRequest("referredUserId is required and must be at most 128 characters")
	}

	if err := s.checkRateLimits(ctx, tenant.ID, req); err != nil {
		return nil, err
	}

	// Idempotency fast path: the common case for integration retries. A found
	// row is returned as-is, with no reward data. This read is only an
	// optimization; the authoritative duplicate guard is the re-check inside
	// the SERIALIZABLE transaction below.
	if existing, err := s.findReferral(s.DB.WithContext(ctx), tenant.ID, req.ReferredUserID); err != nil {
		return nil, err
	} else if existing != nil {
		return &ClaimResult{Referral: existing, AlreadyProcessed: true}, nil
	}

	var referrer models.User
	if err := s.DB.WithContext(ctx).
		Where("tenant_id = ? AND referral_code = ?", tenant.ID, req.ReferralCode).
		First(&referrer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Bad codes feed the per-IP abuse counter; failures there must not
			// fail the claim response.
			if req.ClientIP != "" {
				if incErr := s.Limiter.Increment(ctx, "claim:badcode:ip:"+req.ClientIP, claimRateWindow); incErr != nil {
					log.Printf("⚠️ [CLAIM] failed to record invalid-code attempt from %s: %v", req.ClientIP, incErr)
				}
			}
			return nil, errCodeNotFound()
		}
		return nil, fmt.Errorf("resolve referral code: %w", err)
	}

	if referrer.ExternalUserID == req.ReferredUserID {
		return nil, errSelfReferral()
	}

	if tenant.MaxReferralsPerReferrer > 0 {
		var count int64
		if err := s.DB.WithContext(ctx).
			Model(&models.Referral{}).
			Where("tenant_id = ? AND referrer_user_id = ?", tenant.ID, referrer.ID).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("count referrals for referrer %s: %w", referrer.ID, err)
		}
		if count >= int64(tenant.MaxReferralsPerReferrer) {
			return nil, errCapReached()
		}
	}

	result, err := s.claimTx(ctx, tenant, &referrer, req)
	if isRetryableConflict(err) {
		log.Printf("🔁 [CLAIM] serialization conflict for tenant %s user %s, retrying once", tenant.ID, req.ReferredUserID)
		result, err = s.claimTx(ctx, tenant, &referrer, req)
	}
	if isRetryableConflict(err) {
		return nil, errRetryClaim()
	}
	if err != nil {
		return nil, err
	}

	// Post-commit, best-effort. A webhook enqueue failure is logged and
	// swallowed; it must never fail the already-committed claim.
	if !result.AlreadyProcessed && result.event != nil {
		if _, enqErr := s.Webhooks.Enqueue(ctx, tenant, result.event.ID); enqErr != nil {
			if !errors.Is(enqErr, ErrWebhookNotConfigured) {
				log.Printf("⚠️ [CLAIM] failed to enqueue webhook for event %s: %v", result.event.ID, enqErr)
			}
		}
	}

	return result, nil
}

func (s *ClaimService) checkRateLimits(ctx context.Context, tenantID string, req ClaimRequest) error {
	if req.ClientIP != "" {
		allowed, retryAfter, err := s.Limiter.CheckAndIncrement(ctx, "claim:ip:"+req.ClientIP, claimsPerIPLimit, claimRateWindow)
		if err != nil {
			return fmt.Errorf("rate check (ip): %w", err)
		}
		if !allowed {
			return errRateLimited(retryAfter)
		}
	}

	allowed, retryAfter, err := s.Limiter.CheckAndIncrement(ctx, fmt.Sprintf("claim:user:%s:%s", tenantID, req.ReferredUserID), claimsPerUserLimit, claimRateWindow)
	if err != nil {
		return fmt.Errorf("rate check (user): %w", err)
	}
	if !allowed {
		return errRateLimited(retryAfter)
	}
	return nil
}

// claimTx runs the atomic phase under SERIALIZABLE isolation: re-check, user
// create-or-fetch, referral insert, reward evaluation, ledger writes, and the
// referral.claimed event; all or nothing.
func (s *ClaimService) claimTx(ctx context.Context, tenant *models.Tenant, referrer *models.User, req ClaimRequest) (*ClaimResult, error) {
	var result *ClaimResult

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The authoritative duplicate check. Two concurrent first-time claims
		// for the same referred user cannot both pass this under SERIALIZABLE;
		// the loser aborts and lands on the fast path when retried.
		existing, err := s.findReferral(tx, tenant.ID, req.ReferredUserID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = &ClaimResult{Referral: existing, AlreadyProcessed: true}
			return nil
		}

		referred, err := s.getOrCreateUser(tx, tenant.ID, req.ReferredUserID)
		if err != nil {
			return err
		}

		referral := &models.Referral{
			ID:                     uuid.NewString(),
			TenantID:               tenant.ID,
			ReferrerUserID:         referrer.ID,
			ReferredExternalUserID: req.ReferredUserID,
			ReferralCodeUsed:       req.ReferralCode,
			Status:                 models.ReferralStatusCompleted,
		}
		if err := tx.Create(referral).Error; err != nil {
			return fmt.Errorf("insert referral: %w", err)
		}

		decision := EvaluateRewardRules(tenant.RewardRules, referrer.Tier)

		out := &ClaimResult{Referral: referral}

		// Zero-amount grants are suppressed: no zero-value ledger rows.
		if decision.ReferrerAmount > 0 {
			entry := &models.RewardLedgerEntry{
				TenantID:       tenant.ID,
				UserID:         referrer.ID,
				IdempotencyKey: ReferrerRewardKey(referral.ID, referrer.ID),
				Amount:         decision.ReferrerAmount,
				Currency:       decision.Currency,
				Category:       models.RewardCategoryReferrer,
				ReferralID:     referral.ID,
			}
			if _, err := s.Ledger.InsertIfAbsent(tx, entry); err != nil {
				return err
			}
			out.ReferrerReward = &RewardAmount{Amount: decision.ReferrerAmount, Currency: decision.Currency}
		}
		if decision.ReferredAmount > 0 {
			entry := &models.RewardLedgerEntry{
				TenantID:       tenant.ID,
				UserID:         referred.ID,
				IdempotencyKey: OnboardingBonusKey(referral.ID, referred.ID),
				Amount:         decision.ReferredAmount,
				Currency:       decision.Currency,
				Category:       models.RewardCategoryOnboarding,
				ReferralID:     referral.ID,
			}
			if _, err := s.Ledger.InsertIfAbsent(tx, entry); err != nil {
				return err
			}
			out.ReferredReward = &RewardAmount{Amount: decision.ReferredAmount, Currency: decision.Currency}
		}

		event, err := s.Events.AppendTx(tx, tenant.ID, models.EventReferralClaimed, claimedEventPayload(referral, out))
		if err != nil {
			return err
		}
		out.event = event

		result = out
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *ClaimService) findReferral(db *gorm.DB, tenantID, referredExternalUserID string) (*models.Referral, error) {
	var referral models.Referral
	err := db.
		Where("tenant_id = ? AND referred_external_user_id = ?", tenantID, referredExternalUserID).
		First(&referral).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup referral: %w", err)
	}
	return &referral, nil
}

// getOrCreateUser fetches the referred user's row, creating it when absent.
// The create goes through ON CONFLICT DO NOTHING so a concurrent writer winning
// the race leaves the transaction usable; a zero-rows result just means "re-read
// and use theirs".
func (s *ClaimService) getOrCreateUser(tx *gorm.DB, tenantID, externalUserID string) (*models.User, error) {
	var user models.User
	err := tx.Where("tenant_id = ? AND external_user_id = ?", tenantID, externalUserID).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup user %s: %w", externalUserID, err)
	}

	user = models.User{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		ExternalUserID: externalUserID,
		Tier:           DefaultTier,
		ReferralCode:   GenerateReferralCode(""),
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "external_user_id"}},
		DoNothing: true,
	}).Create(&user)
	if res.Error != nil {
		return nil, fmt.Errorf("create user %s: %w", externalUserID, res.Error)
	}
	if res.RowsAffected == 0 {
		if err := tx.Where("tenant_id = ? AND external_user_id = ?", tenantID, externalUserID).First(&user).Error; err != nil {
			return nil, fmt.Errorf("re-read user %s after conflict: %w", externalUserID, err)
		}
	}
	return &user, nil
}

func claimedEventPayload(referral *models.Referral, result *ClaimResult) map[string]any {
	payload := map[string]any{
		"referral_id":               referral.ID,
		"referrer_user_id":          referral.ReferrerUserID,
		"referred_external_user_id": referral.ReferredExternalUserID,
		"ref_code_used":             referral.ReferralCodeUsed,
		"status":                    referral.Status,
	}
	if result.ReferrerReward != nil {
		payload["referrer_reward"] = result.ReferrerReward
	}
	if result.ReferredReward != nil {
		payload["referred_reward"] = result.ReferredReward
	}
	return payload
}

// isRetryableConflict covers SQLSTATE 40001 (serialization failure) plus a
// unique violation on the referral row itself: both mean a concurrent claim
// won, and a retry resolves to the idempotent path.
func isRetryableConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "23505"
	}
	return false
}
