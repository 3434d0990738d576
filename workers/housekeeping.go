// workers/housekeeping.go
package workers

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"referral-tracking-system/services"
)

// StartHousekeeping schedules the periodic chores: purging expired rate-limit
// windows and exporting aged events to the archive. Returns the scheduler so
// the caller can shut it down.
func StartHousekeeping(limiter *services.FixedWindowLimiter, archiver *EventArchiveWorker) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	sched.Start()

	// Every 10 minutes: drop counter buckets whose window ended over an hour ago.
	_, err = sched.NewJob(
		gocron.DurationJob(10*time.Minute),
		gocron.NewTask(func() {
			purged, err := limiter.PurgeExpired(context.Background(), time.Hour)
			if err != nil {
				log.Printf("[Housekeeping] rate-limit purge failed: %v", err)
				return
			}
			if purged > 0 {
				log.Printf("🧹 [Housekeeping] purged %d expired rate-limit bucket(s)", purged)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	// Hourly: export aged domain events to R2 (no-op when R2 is not configured).
	_, err = sched.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			if err := archiver.ArchiveOnce(context.Background()); err != nil {
				log.Printf("[Housekeeping] event archive failed: %v", err)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	return sched, nil
}
