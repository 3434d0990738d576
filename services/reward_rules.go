package services

import (
	"encoding/json"
	"strings"
)

// Built-in defaults used when a tenant has no reward config, or its config is
// malformed or partial.
const (
	DefaultReferrerAmount = int64(50)
	DefaultReferredAmount = int64(0)
	DefaultCurrency       = "AUD"
	DefaultTier           = "free"
)

// rewardRuleConfig is the shape of Tenant.RewardRules.
//
//	{
//	  "referrer_amounts": {"free": 50, "pro": 200},
//	  "referred_amount": 25,
//	  "currency": "AUD"
//	}
type rewardRuleConfig struct {
	ReferrerAmounts map[string]json.Number `json:"referrer_amounts"`
	ReferredAmount  json.Number            `json:"referred_amount"`
	Currency        string                 `json:"currency"`
}

// RewardDecision is the evaluator's output. An amount of zero means "do not
// write a ledger entry for that side"; zero-value grants are suppressed, not
// recorded.
type RewardDecision struct {
	ReferrerAmount int64
	ReferredAmount int64
	Currency       string
}

// EvaluateRewardRules maps a tenant's configured rules plus the referrer's
// tier to concrete amounts. Pure: no I/O, no shared state. Unknown tiers fall
// back to the lowest configured tier's amount; missing or invalid numeric
// fields fall back to the defaults above.
func EvaluateRewardRules(rulesJSON string, referrerTier string) RewardDecision {
	decision := RewardDecision{
		ReferrerAmount: DefaultReferrerAmount,
		ReferredAmount: DefaultReferredAmount,
		Currency:       DefaultCurrency,
	}

	var cfg rewardRuleConfig
	if err := json.Unmarshal([]byte(rulesJSON), &cfg); err != nil {
		return decision
	}

	if cfg.Currency != "" {
		decision.Currency = strings.ToUpper(cfg.Currency)
	}

	if amt, ok := parseAmount(cfg.ReferredAmount); ok {
		decision.ReferredAmount = amt
	}

	if len(cfg.ReferrerAmounts) == 0 {
		return decision
	}

	tier := strings.ToLower(strings.TrimSpace(referrerTier))
	if tier == "" {
		tier = DefaultTier
	}

	if amt, ok := parseAmount(cfg.ReferrerAmounts[tier]); ok {
		decision.ReferrerAmount = amt
		return decision
	}

	// Unknown tier: fall back to the lowest configured tier amount.
	if amt, ok := lowestAmount(cfg.ReferrerAmounts); ok {
		decision.ReferrerAmount = amt
	}
	return decision
}

func parseAmount(n json.Number) (int64, bool) {
	if n == "" {
		return 0, false
	}
	v, err := n.Int64()
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func lowestAmount(amounts map[string]json.Number) (int64, bool) {
	var lowest int64
	found := false
	for _, n := range amounts {
		v, ok := parseAmount(n)
		if !ok {
			continue
		}
		if !found || v < lowest {
			lowest = v
			found = true
		}
	}
	return lowest, found
}
