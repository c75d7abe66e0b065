// workers/report_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"invitation-service/services"
	"invitation-service/utils"
)

// ReportWorker exports the previous month's credited-referrals report to
// R2 once per month. It polls daily and remembers the last month it
// exported, so within one process lifetime each month is uploaded once.
// The memory is not persisted: a restart re-exports the previous month,
// overwriting the same R2 key with identical content.
type ReportWorker struct {
	reports  *services.ReportService
	interval time.Duration

	lastExported time.Time // first day of the last exported month
}

func NewReportWorker(reports *services.ReportService) *ReportWorker {
	return &ReportWorker{
		reports:  reports,
		interval: 24 * time.Hour,
	}
}

func (w *ReportWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Referral Report Worker (monthly export → R2)…")
	go w.run(ctx)
}

func (w *ReportWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-ctx.Done():
			log.Println("⏹️ Referral Report Worker stopped")
			return
		}
	}
}

func (w *ReportWorker) tick(ctx context.Context) {
	if !utils.R2Configured() {
		return
	}

	now := time.Now().UTC()
	prevMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	if !w.lastExported.Before(prevMonth) {
		return
	}

	if err := w.reports.ExportMonth(ctx, prevMonth.Year(), prevMonth.Month()); err != nil {
		log.Printf("❌ [REPORT] export for %s failed: %v", prevMonth.Format("2006-01"), err)
		return
	}

	w.lastExported = prevMonth
	log.Printf("📦 [REPORT] exported referral report for %s", prevMonth.Format("2006-01"))
}
