package subsync

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartSweepScheduler runs the bulk drift sweep on a fixed interval. The
// admin endpoint stays the primary trigger; this job just keeps the mirror
// from drifting between manual runs.
func StartSweepScheduler(svc *Service, interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			result, err := svc.SweepAll(ctx)
			if err != nil {
				log.Printf("[Sweep] subscription sweep failed: %v", err)
				return
			}
			log.Printf("[Sweep] subscriptions synced=%d failed=%d", result.Synced, result.Failed)
		}),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}
