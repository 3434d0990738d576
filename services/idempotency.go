package services

import "fmt"

// Ledger idempotency keys are derived deterministically from domain ids so the
// (tenant, key, user) unique index can enforce at-most-once grants. All call
// sites go through these helpers; the formats below are a storage contract,
// not an implementation detail.

// ReferrerRewardKey identifies the referrer-side grant for a referral.
func ReferrerRewardKey(referralID, userID string) string {
	return fmt.Sprintf("ref_reward_%s_%s", referralID, userID)
}

// OnboardingBonusKey identifies the referred user's one-time bonus.
func OnboardingBonusKey(referralID, userID string) string {
	return fmt.Sprintf("onboard_%s_%s", referralID, userID)
}

// ReversalKey identifies a manual reversal of a prior ledger entry, so the
// same entry cannot be reversed twice.
func ReversalKey(entryID string) string {
	return fmt.Sprintf("reversal_%s", entryID)
}
