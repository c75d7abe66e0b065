// services/report_service.go
package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"invitation-service/models"
	"invitation-service/utils"

	"gorm.io/gorm"
)

// ReportService builds the monthly credited-referrals report and ships
// it to R2 for the finance folks.
type ReportService struct {
	DB *gorm.DB
}

func NewReportService(db *gorm.DB) *ReportService {
	return &ReportService{DB: db}
}

// BuildMonthlyCSV renders every referral credited in the given month.
func (s *ReportService) BuildMonthlyCSV(ctx context.Context, year int, month time.Month) ([]byte, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	var referrals []models.Referral
	err := s.DB.WithContext(ctx).
		Preload("Referrer").Preload("Referred").Preload("Product").
		Where("reward_status = ? AND reward_credited_at >= ? AND reward_credited_at < ?",
			models.RewardCredited, start, end).
		Order("reward_credited_at").
		Find(&referrals).Error
	if err != nil {
		return nil, fmt.Errorf("fetch credited referrals: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"referral_id", "product", "referrer_email", "referred_email", "reward_year", "amount_cents", "credited_at"})

	for _, r := range referrals {
		var productName, referrerEmail, referredEmail string
		var amount int64
		if r.Product != nil {
			productName = r.Product.Name
			amount = r.Product.RewardAmountCents()
		}
		if r.Referrer != nil {
			referrerEmail = r.Referrer.Email
		}
		if r.Referred != nil {
			referredEmail = r.Referred.Email
		}
		creditedAt := ""
		if r.RewardCreditedAt != nil {
			creditedAt = r.RewardCreditedAt.Format(time.RFC3339)
		}
		_ = w.Write([]string{
			r.ID, productName, referrerEmail, referredEmail,
			strconv.Itoa(r.RewardYear), strconv.FormatInt(amount, 10), creditedAt,
		})
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportMonth uploads the month's report to R2.
func (s *ReportService) ExportMonth(ctx context.Context, year int, month time.Month) error {
	body, err := s.BuildMonthlyCSV(ctx, year, month)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("reports/referrals-%04d-%02d.csv", year, int(month))
	if err := utils.UploadToR2(ctx, key, body, "text/csv"); err != nil {
		return fmt.Errorf("upload report %s: %w", key, err)
	}
	return nil
}
