package models

// Tenant is the isolation boundary: every other row carries a TenantID and
// every query is scoped by it. Provisioned out-of-band, mutated rarely
// (webhook destination, reward rule config), never deleted in-flow.
type Tenant struct {
	ID     string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	Name   string `gorm:"not null" json:"name"`
	APIKey string `gorm:"uniqueIndex;not null" json:"-"`

	// Webhook destination. Empty WebhookURL means "not configured"; enqueue
	// attempts fail with WEBHOOK_NOT_CONFIGURED rather than writing dead rows.
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"-"`

	// RewardRules is the tenant's reward configuration as raw JSON, parsed by
	// the evaluator on every claim. Malformed config falls back to defaults.
	RewardRules string `gorm:"type:jsonb;default:'{}'" json:"reward_rules"`

	// MaxReferralsPerReferrer caps how many referrals a single referrer can
	// accumulate. 0 means unlimited.
	MaxReferralsPerReferrer int `gorm:"default:0" json:"max_referrals_per_referrer"`

	Timestamps
}
