package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"referral-tracking-system/models"
)

// RateLimiter is the injectable collaborator the claim path depends on. The
// claim processor never knows which store backs it.
type RateLimiter interface {
	// CheckAndIncrement counts this request against key's fixed window and
	// reports whether it is still within limit. retryAfter is the number of
	// seconds until the current window rolls over (only meaningful when not
	// allowed).
	CheckAndIncrement(ctx context.Context, key string, limit int64, window time.Duration) (allowed bool, retryAfter int, err error)

	// Increment bumps a counter without enforcing a limit (abuse bookkeeping,
	// e.g. invalid-code attempts per IP).
	Increment(ctx context.Context, key string, window time.Duration) error
}

// FixedWindowLimiter backs RateLimiter with a Postgres counter table. The
// upsert-increment is a single atomic statement, so concurrent requests never
// under-count.
type FixedWindowLimiter struct {
	DB *gorm.DB
}

func NewFixedWindowLimiter(db *gorm.DB) *FixedWindowLimiter {
	return &FixedWindowLimiter{DB: db}
}

func (l *FixedWindowLimiter) CheckAndIncrement(ctx context.Context, key string, limit int64, window time.Duration) (bool, int, error) {
	windowStart := time.Now().UTC().Truncate(window)

	var count int64
	err := l.DB.WithContext(ctx).Raw(`
		INSERT INTO rate_limit_counters (key, window_start, count)
		VALUES (?, ?, 1)
		ON CONFLICT (key, window_start)
		DO UPDATE SET count = rate_limit_counters.count + 1
		RETURNING count`, key, windowStart).Scan(&count).Error
	if err != nil {
		return false, 0, fmt.Errorf("rate limit increment for %s: %w", key, err)
	}

	if count > limit {
		retryAfter := int(time.Until(windowStart.Add(window)).Seconds()) + 1
		return false, retryAfter, nil
	}
	return true, 0, nil
}

func (l *FixedWindowLimiter) Increment(ctx context.Context, key string, window time.Duration) error {
	_, _, err := l.CheckAndIncrement(ctx, key, 1<<62, window)
	return err
}

// PurgeExpired deletes counter buckets whose window ended before the retention
// cutoff. Run periodically by the scheduler.
func (l *FixedWindowLimiter) PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := l.DB.WithContext(ctx).
		Where("window_start < ?", cutoff).
		Delete(&models.RateLimitCounter{})
	return res.RowsAffected, res.Error
}
