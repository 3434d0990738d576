package models

// User is a local record of an external application's end user, identified by
// the opaque ExternalUserID the tenant's own system supplies. The referrer side
// is written by the upsert endpoint (which also assigns a referral code); the
// referred side is created lazily inside the claim transaction.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	TenantID string `gorm:"not null;uniqueIndex:idx_users_tenant_external;uniqueIndex:idx_users_tenant_code" json:"tenant_id"`

	ExternalUserID string `gorm:"not null;uniqueIndex:idx_users_tenant_external" json:"external_user_id"`
	Username       string `json:"username,omitempty"`

	// Tier drives the per-tier referrer reward lookup.
	Tier string `gorm:"default:'free'" json:"tier"`

	// ReferralCode is unique per tenant. Assigned on upsert when absent.
	ReferralCode string `gorm:"not null;uniqueIndex:idx_users_tenant_code" json:"referral_code"`

	Timestamps
}
