package models

// ReferralStatus values. Referrals are granted synchronously, so rows are written
// already completed. There is no pending-approval phase.
type ReferralStatus string

const (
	ReferralStatusCompleted ReferralStatus = "completed"
)

// Referral records "referrer's code was used by referred user". Immutable once
// written. The (tenant_id, referred_external_user_id) unique index is the race
// guard for concurrent first-time claims: the storage layer rejects the loser,
// application logic only detects it.
type Referral struct {
	ID       string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	TenantID string `gorm:"not null;uniqueIndex:idx_referrals_tenant_referred" json:"tenant_id"`

	ReferrerUserID         string `gorm:"index;not null" json:"referrer_user_id"`
	ReferredExternalUserID string `gorm:"not null;uniqueIndex:idx_referrals_tenant_referred" json:"referred_external_user_id"`

	ReferralCodeUsed string         `gorm:"not null" json:"ref_code_used"`
	Status           ReferralStatus `gorm:"not null;default:'completed'" json:"status"`

	Timestamps
}
