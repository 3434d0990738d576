package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"referral-tracking-system/models"
)

// EventService appends to the domain event log. Events are facts: written
// once, never mutated, consumed by the webhook dispatcher and by audit
// collaborators.
type EventService struct {
	DB *gorm.DB
}

func NewEventService(db *gorm.DB) *EventService {
	return &EventService{DB: db}
}

// AppendTx writes an event on the caller's transaction, so the event commits
// or aborts together with the state change it describes.
func (s *EventService) AppendTx(tx *gorm.DB, tenantID, eventType string, payload any) (*models.DomainEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	event := &models.DomainEvent{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Type:     eventType,
		Payload:  string(body),
	}
	if err := tx.Create(event).Error; err != nil {
		return nil, fmt.Errorf("append %s event: %w", eventType, err)
	}
	return event, nil
}

// Append writes an event outside any caller transaction (dispatcher
// bookkeeping: webhook.sent / webhook.failed / webhook.exhausted).
func (s *EventService) Append(ctx context.Context, tenantID, eventType string, payload any) (*models.DomainEvent, error) {
	return s.AppendTx(s.DB.WithContext(ctx), tenantID, eventType, payload)
}
