package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The key formats are a storage contract: the ledger's unique index enforces
// them, so they must never drift.
func TestLedgerKeyDerivation(t *testing.T) {
	assert.Equal(t, "ref_reward_r1_u1", ReferrerRewardKey("r1", "u1"))
	assert.Equal(t, "onboard_r1_u2", OnboardingBonusKey("r1", "u2"))
	assert.Equal(t, "reversal_e1", ReversalKey("e1"))

	// Same inputs, same key; every time.
	assert.Equal(t, ReferrerRewardKey("r1", "u1"), ReferrerRewardKey("r1", "u1"))

	// Different sides of the same referral must never collide.
	assert.NotEqual(t, ReferrerRewardKey("r1", "u1"), OnboardingBonusKey("r1", "u1"))
}
