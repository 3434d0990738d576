package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"referral-tracking-system/models"
	"referral-tracking-system/utils"
)

// EventArchiveWorker exports aged domain events to R2 as NDJSON for long-term
// audit. Strictly a reader of the event log: it never deletes or mutates
// events, and it tracks its own progress by created_at watermark.
type EventArchiveWorker struct {
	DB        *gorm.DB
	Retention time.Duration
	BatchSize int

	// watermark is in-memory only: after a restart the worker re-exports the
	// last archived window, producing duplicate NDJSON objects in the sink.
	// Tolerated downstream; the source events are never deleted.
	watermark time.Time
}

func NewEventArchiveWorker(db *gorm.DB) *EventArchiveWorker {
	return &EventArchiveWorker{
		DB:        db,
		Retention: 24 * time.Hour,
		BatchSize: 1000,
	}
}

// ArchiveOnce exports one batch of events older than the retention window and
// past the current watermark. Called periodically by the scheduler.
func (w *EventArchiveWorker) ArchiveOnce(ctx context.Context) error {
	if !utils.R2Enabled() {
		return nil
	}

	cutoff := time.Now().UTC().Add(-w.Retention)

	var events []models.DomainEvent
	if err := w.DB.WithContext(ctx).
		Where("created_at > ? AND created_at <= ?", w.watermark, cutoff).
		Order("created_at ASC").
		Limit(w.BatchSize).
		Find(&events).Error; err != nil {
		return fmt.Errorf("select events to archive: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("encode event %s: %w", event.ID, err)
		}
	}

	key := fmt.Sprintf("event-archive/%s/%s.ndjson",
		events[0].CreatedAt.UTC().Format("2006-01-02"), events[len(events)-1].ID)
	if err := utils.UploadToR2(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		// Watermark stays put on failure; the same window is retried next run.
		return err
	}

	w.watermark = events[len(events)-1].CreatedAt
	log.Printf("🗄️ [ARCHIVER] exported %d event(s) to %s", len(events), key)
	return nil
}
