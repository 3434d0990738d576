package models

import "time"

// Domain event types produced by the claim path and the dispatcher.
const (
	EventReferralClaimed  = "referral.claimed"
	EventWebhookTest      = "webhook.test"
	EventWebhookReplay    = "webhook.replay"
	EventWebhookSent      = "webhook.sent"
	EventWebhookFailed    = "webhook.failed"
	EventWebhookExhausted = "webhook.exhausted"
)

// DomainEvent is an immutable fact record, appended whenever something notable
// happens and never updated. Read by the webhook dispatcher and by audit and
// reporting collaborators.
type DomainEvent struct {
	ID       string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	TenantID string `gorm:"index;not null" json:"tenant_id"`
	Type     string `gorm:"index;not null" json:"type"`

	// Payload is the event body as raw JSON.
	Payload string `gorm:"type:jsonb;not null;default:'{}'" json:"payload"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
