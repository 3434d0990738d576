package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateRewardRulesDefaults(t *testing.T) {
	decision := EvaluateRewardRules("{}", "free")
	assert.Equal(t, DefaultReferrerAmount, decision.ReferrerAmount)
	assert.Equal(t, DefaultReferredAmount, decision.ReferredAmount)
	assert.Equal(t, "AUD", decision.Currency)
}

func TestEvaluateRewardRulesMalformedConfig(t *testing.T) {
	for _, rules := range []string{"", "not json", `{"referrer_amounts": "oops"`, `[]`} {
		decision := EvaluateRewardRules(rules, "pro")
		assert.Equal(t, DefaultReferrerAmount, decision.ReferrerAmount, "rules=%q", rules)
		assert.Equal(t, DefaultReferredAmount, decision.ReferredAmount, "rules=%q", rules)
		assert.Equal(t, DefaultCurrency, decision.Currency, "rules=%q", rules)
	}
}

func TestEvaluateRewardRulesTierLookup(t *testing.T) {
	rules := `{"referrer_amounts": {"free": 50, "pro": 200}, "referred_amount": 0, "currency": "AUD"}`

	decision := EvaluateRewardRules(rules, "pro")
	assert.Equal(t, int64(200), decision.ReferrerAmount)
	assert.Equal(t, int64(0), decision.ReferredAmount)
	assert.Equal(t, "AUD", decision.Currency)

	decision = EvaluateRewardRules(rules, "free")
	assert.Equal(t, int64(50), decision.ReferrerAmount)
}

func TestEvaluateRewardRulesUnknownTierFallsBackToLowest(t *testing.T) {
	rules := `{"referrer_amounts": {"free": 50, "pro": 200, "enterprise": 500}}`

	decision := EvaluateRewardRules(rules, "platinum")
	assert.Equal(t, int64(50), decision.ReferrerAmount)

	// Tier matching is case/space-insensitive; empty tier means the default tier.
	decision = EvaluateRewardRules(rules, "  PRO ")
	assert.Equal(t, int64(200), decision.ReferrerAmount)

	decision = EvaluateRewardRules(rules, "")
	assert.Equal(t, int64(50), decision.ReferrerAmount)
}

func TestEvaluateRewardRulesInvalidAmounts(t *testing.T) {
	// Negative and non-integer amounts are ignored in favor of defaults.
	decision := EvaluateRewardRules(`{"referrer_amounts": {"free": -10}, "referred_amount": -5}`, "free")
	assert.Equal(t, DefaultReferrerAmount, decision.ReferrerAmount)
	assert.Equal(t, DefaultReferredAmount, decision.ReferredAmount)

	decision = EvaluateRewardRules(`{"referrer_amounts": {"free": 25.5}}`, "free")
	assert.Equal(t, DefaultReferrerAmount, decision.ReferrerAmount)
}

func TestEvaluateRewardRulesCurrencyNormalized(t *testing.T) {
	decision := EvaluateRewardRules(`{"currency": "usd"}`, "free")
	assert.Equal(t, "USD", decision.Currency)
}

func TestEvaluateRewardRulesReferredBonus(t *testing.T) {
	decision := EvaluateRewardRules(`{"referrer_amounts": {"free": 100}, "referred_amount": 25}`, "free")
	assert.Equal(t, int64(100), decision.ReferrerAmount)
	assert.Equal(t, int64(25), decision.ReferredAmount)
}
