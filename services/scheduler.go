// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartRewardScheduler runs the daily sweep of qualified-but-unrewarded
// referrals. The external cron endpoint can trigger the same sweep on
// demand; both paths are idempotent.
func (s *ReferralService) StartRewardScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			if err := s.SweepPendingRewards(ctx); err != nil {
				log.Printf("❌ [Scheduler] reward sweep failed: %v", err)
			}
		}),
	)

	log.Println("✅ Reward sweep scheduler started (every 24h)")
}
