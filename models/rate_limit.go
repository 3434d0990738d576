package models

import "time"

// RateLimitCounter is one fixed-window counter bucket. Key encodes the scope
// (e.g. "claim:ip:1.2.3.4"), WindowStart the bucket boundary. Incremented
// atomically via upsert; expired buckets are purged by a housekeeping job.
type RateLimitCounter struct {
	Key         string    `gorm:"primaryKey" json:"key"`
	WindowStart time.Time `gorm:"primaryKey" json:"window_start"`
	Count       int64     `gorm:"not null;default:0" json:"count"`
}
