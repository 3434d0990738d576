package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"referral-tracking-system/models"
	"referral-tracking-system/services"
	"referral-tracking-system/utils"
)

// retryBackoff is the fixed delay table indexed by attempt count. It holds at
// the last value, but in practice the attempt ceiling turns a delivery into
// failed/exhausted before that matters: past the limit nothing is rescheduled.
var retryBackoff = []time.Duration{
	0,
	10 * time.Second,
	time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

// BackoffDelay returns the wait before the next attempt, given how many
// attempts have already been made.
func BackoffDelay(attemptCount int) time.Duration {
	if attemptCount < 0 {
		attemptCount = 0
	}
	if attemptCount >= len(retryBackoff) {
		return retryBackoff[len(retryBackoff)-1]
	}
	return retryBackoff[attemptCount]
}

// WebhookEventPayload is the wire shape POSTed to tenant endpoints.
type WebhookEventPayload struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	TenantID  string          `json:"tenantId"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// WebhookDispatcher is the long-lived polling loop that drains the delivery
// queue. It talks to the claim path only through the deliveries table, so a
// webhook outage can never block claim throughput. Multiple instances are safe:
// the batch claim uses FOR UPDATE SKIP LOCKED plus a short lease so no two
// instances pick up the same row.
type WebhookDispatcher struct {
	DB         *gorm.DB
	Events     *services.EventService
	HTTPClient *http.Client

	PollInterval time.Duration
	BatchSize    int
	WorkerCount  int
	MaxAttempts  int
}

func NewWebhookDispatcher(db *gorm.DB, events *services.EventService) *WebhookDispatcher {
	return &WebhookDispatcher{
		DB:           db,
		Events:       events,
		HTTPClient:   utils.WebhookHTTPClient,
		PollInterval: 5 * time.Second,
		BatchSize:    50,
		WorkerCount:  8,
		MaxAttempts:  6,
	}
}

// Run polls until ctx is cancelled. Shutdown is cooperative: the flag is
// checked between batches, so an in-flight batch always finishes.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	log.Println("Starting webhook dispatcher...")

	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Webhook dispatcher stopped.")
			return
		case <-ticker.C:
			if err := d.DispatchDueBatch(ctx); err != nil {
				log.Printf("❌ [DISPATCHER] batch failed: %v", err)
			}
		}
	}
}

// DispatchDueBatch claims one batch of due deliveries and works through it
// with bounded fan-out. Each delivery is independent: one failure never aborts
// the rest of the batch.
func (d *WebhookDispatcher) DispatchDueBatch(ctx context.Context) error {
	batch, err := d.claimDueBatch(ctx)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	log.Printf("📤 [DISPATCHER] claimed %d due deliver(ies)", len(batch))

	jobs := make(chan models.WebhookDelivery)
	var wg sync.WaitGroup
	for i := 0; i < d.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for delivery := range jobs {
				d.process(ctx, delivery)
			}
		}()
	}
	for _, delivery := range batch {
		jobs <- delivery
	}
	close(jobs)
	wg.Wait()
	return nil
}

// batchLease is how long claimed rows stay invisible to other dispatcher
// instances. It must cover the worst-case drain of a full batch: each worker
// working through its share at the full per-call timeout, plus one round of
// slack. A lease shorter than the drain would let a second instance re-claim
// a row that is still queued behind slow calls on this one.
func (d *WebhookDispatcher) batchLease() time.Duration {
	rounds := (d.BatchSize + d.WorkerCount - 1) / d.WorkerCount
	return time.Duration(rounds+1) * d.HTTPClient.Timeout
}

// claimDueBatch selects pending rows that are due, skipping rows another
// dispatcher instance holds locked, and leases them by pushing next_attempt_at
// past the worst-case batch drain so they stay invisible while in flight.
func (d *WebhookDispatcher) claimDueBatch(ctx context.Context) ([]models.WebhookDelivery, error) {
	var batch []models.WebhookDelivery
	lease := d.batchLease()

	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_attempt_at <= ?", models.WebhookDeliveryStatusPending, now).
			Limit(d.BatchSize).
			Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, delivery := range batch {
			ids[i] = delivery.ID
		}
		return tx.Model(&models.WebhookDelivery{}).
			Where("id IN ?", ids).
			Update("next_attempt_at", now.Add(lease)).Error
	})
	if err != nil {
		return nil, fmt.Errorf("claim due deliveries: %w", err)
	}
	return batch, nil
}

// process runs one attempt and records its outcome. Errors here are logged,
// never propagated: a stuck row is re-leased on a later poll.
func (d *WebhookDispatcher) process(ctx context.Context, delivery models.WebhookDelivery) {
	attemptErr := d.attempt(ctx, &delivery)

	// An attempt that already ran must land in the row even when shutdown
	// cancels the poll context mid-batch; otherwise the row sits pending with
	// a stale attempt count until the lease expires.
	ctx = context.WithoutCancel(ctx)

	now := time.Now().UTC()
	eventType := ApplyAttemptOutcome(&delivery, attemptErr, now, d.MaxAttempts)

	if err := d.DB.WithContext(ctx).Model(&models.WebhookDelivery{}).
		Where("id = ?", delivery.ID).
		Updates(map[string]any{
			"status":          delivery.Status,
			"attempt_count":   delivery.AttemptCount,
			"last_attempt_at": delivery.LastAttemptAt,
			"next_attempt_at": delivery.NextAttemptAt,
			"last_error":      delivery.LastError,
		}).Error; err != nil {
		log.Printf("❌ [DISPATCHER] failed to record outcome for delivery %s: %v", delivery.ID, err)
		return
	}

	switch eventType {
	case models.EventWebhookSent:
		log.Printf("✅ [DISPATCHER] delivered event %s (delivery %s, attempt %d)", delivery.EventID, delivery.ID, delivery.AttemptCount)
	case models.EventWebhookExhausted:
		log.Printf("🚫 [DISPATCHER] delivery %s for event %s exhausted after %d attempts: %v", delivery.ID, delivery.EventID, delivery.AttemptCount, attemptErr)
	default:
		log.Printf("⚠️ [DISPATCHER] delivery %s for event %s failed (attempt %d, next at %s): %v",
			delivery.ID, delivery.EventID, delivery.AttemptCount, delivery.NextAttemptAt.Format(time.RFC3339), attemptErr)
	}

	payload := map[string]any{
		"delivery_id": delivery.ID,
		"event_id":    delivery.EventID,
		"attempt":     delivery.AttemptCount,
	}
	if attemptErr != nil {
		payload["error"] = attemptErr.Error()
	}
	if _, err := d.Events.Append(ctx, delivery.TenantID, eventType, payload); err != nil {
		log.Printf("⚠️ [DISPATCHER] failed to append %s event for delivery %s: %v", eventType, delivery.ID, err)
	}
}

// ApplyAttemptOutcome advances the per-row state machine:
// pending → success on a 2xx, pending → pending with backoff while budget
// remains, pending → failed (exhausted) once attempts hit the ceiling.
// Returns the bookkeeping event type to append.
func ApplyAttemptOutcome(delivery *models.WebhookDelivery, attemptErr error, now time.Time, maxAttempts int) string {
	delivery.AttemptCount++
	delivery.LastAttemptAt = &now

	if attemptErr == nil {
		delivery.Status = models.WebhookDeliveryStatusSuccess
		delivery.LastError = nil
		return models.EventWebhookSent
	}

	msg := attemptErr.Error()
	delivery.LastError = &msg

	if delivery.AttemptCount >= maxAttempts {
		delivery.Status = models.WebhookDeliveryStatusFailed
		return models.EventWebhookExhausted
	}

	delivery.Status = models.WebhookDeliveryStatusPending
	delivery.NextAttemptAt = now.Add(BackoffDelay(delivery.AttemptCount))
	return models.EventWebhookFailed
}

// attempt builds, signs, and POSTs the event payload. Any non-2xx status,
// timeout, or transport error counts as a failed attempt.
func (d *WebhookDispatcher) attempt(ctx context.Context, delivery *models.WebhookDelivery) error {
	var event models.DomainEvent
	if err := d.DB.WithContext(ctx).
		Where("id = ?", delivery.EventID).
		First(&event).Error; err != nil {
		return fmt.Errorf("load event %s: %w", delivery.EventID, err)
	}

	var tenant models.Tenant
	if err := d.DB.WithContext(ctx).
		Where("id = ?", delivery.TenantID).
		First(&tenant).Error; err != nil {
		return fmt.Errorf("load tenant %s: %w", delivery.TenantID, err)
	}

	body, err := json.Marshal(WebhookEventPayload{
		ID:        event.ID,
		Type:      event.Type,
		TenantID:  event.TenantID,
		Timestamp: event.CreatedAt.UTC(),
		Data:      json.RawMessage(event.Payload),
	})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}

	return d.send(ctx, delivery.URL, tenant.WebhookSecret, body)
}

func (d *WebhookDispatcher) send(ctx context.Context, url, secret string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	timestamp := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(utils.HeaderWebhookTimestamp, fmt.Sprintf("%d", timestamp))
	req.Header.Set(utils.HeaderWebhookSignature, utils.SignWebhookPayload(secret, timestamp, body))

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("destination returned status %d", resp.StatusCode)
	}
	return nil
}
