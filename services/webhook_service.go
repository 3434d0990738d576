package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"referral-tracking-system/models"
)

// WebhookService creates delivery rows for the dispatcher to work through. It
// never sends anything itself and never mutates existing delivery rows;
// replaying an event inserts a fresh row so the full attempt history stays
// intact for audit.
type WebhookService struct {
	DB     *gorm.DB
	Events *EventService
}

func NewWebhookService(db *gorm.DB, events *EventService) *WebhookService {
	return &WebhookService{DB: db, Events: events}
}

// Enqueue creates a pending delivery for an existing event, due immediately.
// Used by the claim path post-commit and by the admin replay trigger.
func (s *WebhookService) Enqueue(ctx context.Context, tenant *models.Tenant, eventID string) (string, error) {
	if tenant.WebhookURL == "" {
		return "", ErrWebhookNotConfigured
	}

	var event models.DomainEvent
	if err := s.DB.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenant.ID, eventID).
		First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrEventNotFound
		}
		return "", fmt.Errorf("lookup event %s: %w", eventID, err)
	}

	delivery := &models.WebhookDelivery{
		ID:            uuid.NewString(),
		TenantID:      tenant.ID,
		EventID:       event.ID,
		URL:           tenant.WebhookURL,
		Status:        models.WebhookDeliveryStatusPending,
		NextAttemptAt: time.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(delivery).Error; err != nil {
		return "", fmt.Errorf("enqueue delivery for event %s: %w", eventID, err)
	}
	return delivery.ID, nil
}

// Replay appends a webhook.replay audit event, then enqueues a brand-new
// delivery row for the replayed event.
func (s *WebhookService) Replay(ctx context.Context, tenant *models.Tenant, eventID string) (string, error) {
	deliveryID, err := s.Enqueue(ctx, tenant, eventID)
	if err != nil {
		return "", err
	}
	if _, auditErr := s.Events.Append(ctx, tenant.ID, models.EventWebhookReplay, map[string]any{
		"event_id":    eventID,
		"delivery_id": deliveryID,
	}); auditErr != nil {
		return "", auditErr
	}
	return deliveryID, nil
}

// EnqueueTest appends a webhook.test event and queues it for delivery, so
// tenants can verify their endpoint and signature handling end to end.
func (s *WebhookService) EnqueueTest(ctx context.Context, tenant *models.Tenant) (string, error) {
	if tenant.WebhookURL == "" {
		return "", ErrWebhookNotConfigured
	}
	event, err := s.Events.Append(ctx, tenant.ID, models.EventWebhookTest, map[string]any{
		"message": "test delivery requested",
	})
	if err != nil {
		return "", err
	}
	return s.Enqueue(ctx, tenant, event.ID)
}

// ListDeliveries returns every attempt-series recorded for an event, newest
// first. Read surface for admin tooling.
func (s *WebhookService) ListDeliveries(ctx context.Context, tenantID, eventID string) ([]models.WebhookDelivery, error) {
	var deliveries []models.WebhookDelivery
	err := s.DB.WithContext(ctx).
		Where("tenant_id = ? AND event_id = ?", tenantID, eventID).
		Order("created_at DESC").
		Find(&deliveries).Error
	if err != nil {
		return nil, fmt.Errorf("list deliveries for event %s: %w", eventID, err)
	}
	return deliveries, nil
}
