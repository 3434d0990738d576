package models

import "time"

// WebhookDeliveryStatus values. Pending rows are owned by the dispatcher until they
// reach a terminal state. "failed" means exhausted: the retry budget is spent
// and only a manual replay (a brand-new row) resumes delivery.
type WebhookDeliveryStatus string

const (
	WebhookDeliveryStatusPending WebhookDeliveryStatus = "pending"
	WebhookDeliveryStatusSuccess WebhookDeliveryStatus = "success"
	WebhookDeliveryStatusFailed  WebhookDeliveryStatus = "failed"
)

// WebhookDelivery is one attempt-series for a (event, destination URL) pair.
// Created at claim-commit time or via replay/test; mutated only by the
// dispatcher. Replay inserts a new row rather than resetting an old one, so
// delivery history survives for audit.
type WebhookDelivery struct {
	ID       string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	TenantID string `gorm:"index;not null" json:"tenant_id"`
	EventID  string `gorm:"index;not null" json:"event_id"`
	URL      string `gorm:"not null" json:"url"`

	Status        WebhookDeliveryStatus `gorm:"not null;default:'pending';index:idx_deliveries_due" json:"status"`
	AttemptCount  int                   `gorm:"not null" json:"attempt_count"`
	LastAttemptAt *time.Time            `json:"last_attempt_at,omitempty"`
	NextAttemptAt time.Time             `gorm:"not null;index:idx_deliveries_due" json:"next_attempt_at"`
	LastError     *string               `json:"last_error,omitempty"`

	Timestamps
}
