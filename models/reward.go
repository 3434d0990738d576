package models

import "time"

// RewardCategory marks which side of a referral a ledger entry pays, or that
// it is a manual reversal.
type RewardCategory string

const (
	RewardCategoryReferrer   RewardCategory = "referrer_reward"
	RewardCategoryOnboarding RewardCategory = "onboarding_bonus"
	RewardCategoryReversal   RewardCategory = "reversal"
)

// RewardLedgerEntry is one reward grant. Append-only: totals are always
// derived by summing entries, never cached. A negative Amount is a manual
// reversal, written as a new entry rather than an edit of a prior one.
//
// The (tenant_id, idempotency_key, user_id) unique index makes inserts
// naturally idempotent: a duplicate insert is a no-op, not an error. That is
// the double-grant guard, including outside the claim transaction.
type RewardLedgerEntry struct {
	ID       string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	TenantID string `gorm:"not null;uniqueIndex:idx_ledger_tenant_key_user" json:"tenant_id"`

	UserID         string `gorm:"not null;index;uniqueIndex:idx_ledger_tenant_key_user" json:"user_id"`
	IdempotencyKey string `gorm:"not null;uniqueIndex:idx_ledger_tenant_key_user" json:"idempotency_key"`

	Amount   int64          `gorm:"not null" json:"amount"`
	Currency string         `gorm:"not null" json:"currency"`
	Category RewardCategory `gorm:"not null" json:"category"`

	// ReferralID links grant entries back to the referral that earned them.
	// Empty for reversals of non-referral entries.
	ReferralID string `gorm:"index" json:"referral_id,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (RewardLedgerEntry) TableName() string {
	return "reward_ledger_entries"
}
