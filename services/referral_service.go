// services/referral_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"invitation-service/models"

	"gorm.io/gorm"
)

// Errors surfaced by the referral engine. Not-yet-due conditions and
// policy outcomes (forfeited, capped) are not errors.
var (
	// ErrReferralMissing: a paid, referred member has no referral row.
	// Needs a manual data fix; retrying will not help.
	ErrReferralMissing = errors.New("referral record not found for referred member")
	// ErrNoBillingIdentity: referrer has no Stripe customer. The reward
	// stays pending and is retried once an operator fixes the account.
	ErrNoBillingIdentity = errors.New("referrer has no stripe customer id")
	// ErrGatewayFailure: transient Stripe failure; reward stays pending
	// and the next sweep retries.
	ErrGatewayFailure = errors.New("credit gateway call failed")
)

// CreditGateway posts a monetary credit against a customer's billing
// account. Implemented by StripeService; faked in tests.
type CreditGateway interface {
	ApplyReferralCredit(ctx context.Context, productSlug, stripeCustomerID string, amountCents int64, description string) error
}

// keyedMutex hands out one mutex per key, serializing the
// count→credit→write sequence per (referrer, reward year). Entries are
// never evicted; the map grows with the number of distinct
// (referrer, year) buckets seen over the process lifetime.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// ReferralService is the qualification and reward engine. All state
// transitions are guarded by conditional updates on the persisted status
// columns, so overlapping webhook deliveries and sweeps can only apply a
// transition once.
type ReferralService struct {
	DB             *gorm.DB
	Gateway        CreditGateway
	Email          *EmailService
	GatewayTimeout time.Duration

	referrerLocks keyedMutex
	now           func() time.Time
}

func NewReferralService(db *gorm.DB, gateway CreditGateway, email *EmailService) *ReferralService {
	return &ReferralService{
		DB:             db,
		Gateway:        gateway,
		Email:          email,
		GatewayTimeout: 30 * time.Second,
		now:            time.Now,
	}
}

// OnPaymentSucceeded is the event-triggered entry point, called by the
// Stripe webhook handler after each successful subscription invoice.
// Safe under webhook redelivery.
func (s *ReferralService) OnPaymentSucceeded(ctx context.Context, memberID string) error {
	return s.EvaluateQualification(ctx, memberID)
}

// EvaluateQualification checks whether the referred member has been paid
// long enough for their referral to qualify, and marks it qualified if
// so. Members who were never referred, or have not paid yet, are a
// silent no-op. If the chargeback buffer has already elapsed at
// qualification time, disbursement runs synchronously; re-evaluating an
// already-qualified referral also re-attempts disbursement, which is
// idempotent and re-guarded.
func (s *ReferralService) EvaluateQualification(ctx context.Context, memberID string) error {
	var member models.Member
	err := s.DB.WithContext(ctx).Preload("Product").First(&member, "id = ?", memberID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("load member %s: %w", memberID, err)
	}

	if member.ReferredByMemberID == nil || member.FirstPaidAt == nil || member.Product == nil {
		return nil
	}

	now := s.now()
	qualificationDate := member.FirstPaidAt.AddDate(0, 0, member.Product.ReferralQualificationDays)
	if now.Before(qualificationDate) {
		// Not yet time — the next payment event or sweep retries.
		return nil
	}

	var referral models.Referral
	err = s.DB.WithContext(ctx).First(&referral, "referred_member_id = ?", member.ID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Every paid, referred member must have a referral edge.
			log.Printf("❌ [REFERRAL] data inconsistency: no referral row for referred member %s", member.ID)
			return ErrReferralMissing
		}
		return fmt.Errorf("load referral for member %s: %w", member.ID, err)
	}

	qualifiedAt := referral.QualifiedAt

	if referral.QualificationStatus.CanTransitionTo(models.QualificationQualified) {
		res := s.DB.WithContext(ctx).Model(&models.Referral{}).
			Where("id = ? AND qualification_status = ?", referral.ID, models.QualificationPending).
			Updates(map[string]interface{}{
				"qualification_status": models.QualificationQualified,
				"qualified_at":         now,
			})
		if res.Error != nil {
			return fmt.Errorf("mark referral %s qualified: %w", referral.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			// A concurrent invocation won the transition.
			return nil
		}
		log.Printf("✅ [REFERRAL] referral %s qualified (referrer %s)", referral.ID, referral.ReferrerMemberID)
		qualifiedAt = &now
	} else if referral.QualificationStatus != models.QualificationQualified {
		return nil
	}

	if qualifiedAt == nil {
		return nil
	}

	rewardDate := qualifiedAt.AddDate(0, 0, member.Product.ReferralChargebackBufferDays)
	if now.Before(rewardDate) {
		// Money moves only after the chargeback buffer; the daily sweep
		// picks it up.
		return nil
	}

	return s.DisburseReward(ctx, referral.ID)
}

// DisburseReward enforces the annual cap and referrer eligibility, then
// posts the billing credit and records the outcome. Idempotent: a
// referral whose reward_status already left pending is a no-op, and the
// credited write is conditional on the cap still holding.
func (s *ReferralService) DisburseReward(ctx context.Context, referralID string) error {
	var referral models.Referral
	err := s.DB.WithContext(ctx).
		Preload("Referrer").
		Preload("Product").
		First(&referral, "id = ?", referralID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("❌ [REWARD] referral not found: %s", referralID)
			return ErrReferralMissing
		}
		return fmt.Errorf("load referral %s: %w", referralID, err)
	}

	if referral.RewardStatus.Terminal() {
		return nil
	}
	if referral.Referrer == nil || referral.Product == nil {
		log.Printf("❌ [REWARD] referral %s missing referrer or product", referralID)
		return ErrReferralMissing
	}

	// Serialize cap accounting per (referrer, reward year) so an
	// overlapping sweep and webhook path cannot both pass the count
	// check in this process.
	unlock := s.referrerLocks.lock(fmt.Sprintf("%s:%d", referral.ReferrerMemberID, referral.RewardYear))
	defer unlock()

	// Re-read the status under the lock; a concurrent disbursement may
	// have finished while we waited.
	if err := s.DB.WithContext(ctx).First(&referral, "id = ?", referralID).Error; err != nil {
		return fmt.Errorf("reload referral %s: %w", referralID, err)
	}
	if referral.RewardStatus.Terminal() {
		return nil
	}

	referrer := new(models.Member)
	if err := s.DB.WithContext(ctx).First(referrer, "id = ?", referral.ReferrerMemberID).Error; err != nil {
		return fmt.Errorf("load referrer %s: %w", referral.ReferrerMemberID, err)
	}
	product := referral.Product

	// A referrer who churned or was suspended gets nothing. Terminal
	// policy outcome, not an error.
	if referrer.Status != models.MemberStatusActive {
		if err := s.finalizeReward(ctx, referral.ID, models.RewardForfeited); err != nil {
			return err
		}
		log.Printf("🚫 [REWARD] referral %s forfeited: referrer %s is %s", referral.ID, referrer.ID, referrer.Status)
		return nil
	}

	var creditedThisYear int64
	err = s.DB.WithContext(ctx).Model(&models.Referral{}).
		Where("referrer_member_id = ? AND reward_status = ? AND reward_year = ?",
			referral.ReferrerMemberID, models.RewardCredited, referral.RewardYear).
		Count(&creditedThisYear).Error
	if err != nil {
		return fmt.Errorf("count credited referrals for %s: %w", referral.ReferrerMemberID, err)
	}

	if creditedThisYear >= int64(product.ReferralCapPerYear) {
		if err := s.finalizeReward(ctx, referral.ID, models.RewardCapped); err != nil {
			return err
		}
		log.Printf("🚫 [REWARD] referral %s capped: referrer %s already at %d/%d for %d",
			referral.ID, referrer.ID, creditedThisYear, product.ReferralCapPerYear, referral.RewardYear)
		return nil
	}

	// An account gap, not a policy outcome: leave the reward pending so
	// the sweep retries once an operator fixes the account.
	if referrer.StripeCustomerID == nil || *referrer.StripeCustomerID == "" {
		log.Printf("⚠️ [REWARD] referrer %s has no stripe customer id, leaving referral %s pending", referrer.ID, referral.ID)
		return ErrNoBillingIdentity
	}

	amount := product.RewardAmountCents()
	description := "Referral reward - 1 free month"
	if product.ReferralRewardMonths > 1 {
		description = fmt.Sprintf("Referral reward - %d free months", product.ReferralRewardMonths)
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
	defer cancel()

	if err := s.Gateway.ApplyReferralCredit(gatewayCtx, product.Slug, *referrer.StripeCustomerID, amount, description); err != nil {
		log.Printf("⚠️ [REWARD] credit gateway failed for referral %s: %v", referral.ID, err)
		return fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}

	// The credited write happens only after the gateway confirmed, and
	// re-checks the cap in its WHERE clause so the invariant holds even
	// across processes.
	now := s.now()
	res := s.DB.WithContext(ctx).Model(&models.Referral{}).
		Where("id = ? AND reward_status = ?", referral.ID, models.RewardPending).
		Where("(SELECT COUNT(*) FROM referrals cr WHERE cr.referrer_member_id = ? AND cr.reward_status = ? AND cr.reward_year = ?) < ?",
			referral.ReferrerMemberID, models.RewardCredited, referral.RewardYear, product.ReferralCapPerYear).
		Updates(map[string]interface{}{
			"reward_status":      models.RewardCredited,
			"reward_credited_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("mark referral %s credited: %w", referral.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost a cross-process race after the gateway call; the row is
		// still pending and the next sweep will resolve it to capped.
		log.Printf("⚠️ [REWARD] credited write for referral %s skipped (cap reached concurrently)", referral.ID)
		return nil
	}

	log.Printf("💸 [REWARD] referral %s credited: %d cents to referrer %s", referral.ID, amount, referrer.ID)

	if s.Email != nil {
		s.Email.SendRewardCredited(referrer, product, amount)
	}
	return nil
}

// SweepPendingRewards is the periodic entry point. It scans every
// referral that is qualified but not yet rewarded and disburses the ones
// whose chargeback buffer has elapsed. Rows are processed independently;
// one failure never aborts the scan.
func (s *ReferralService) SweepPendingRewards(ctx context.Context) error {
	var referrals []models.Referral
	err := s.DB.WithContext(ctx).
		Preload("Product").
		Where("qualification_status = ? AND reward_status = ? AND qualified_at IS NOT NULL",
			models.QualificationQualified, models.RewardPending).
		Find(&referrals).Error
	if err != nil {
		return fmt.Errorf("fetch pending referrals: %w", err)
	}

	now := s.now()
	due := 0
	for _, referral := range referrals {
		if referral.Product == nil || referral.QualifiedAt == nil {
			log.Printf("⚠️ [SWEEP] referral %s missing product or qualified_at, skipping", referral.ID)
			continue
		}
		rewardDate := referral.QualifiedAt.AddDate(0, 0, referral.Product.ReferralChargebackBufferDays)
		if now.Before(rewardDate) {
			continue
		}
		due++
		if err := s.DisburseReward(ctx, referral.ID); err != nil {
			log.Printf("⚠️ [SWEEP] disburse failed for referral %s: %v", referral.ID, err)
		}
	}

	log.Printf("🔁 [SWEEP] processed %d pending referrals, %d due", len(referrals), due)
	return nil
}

// finalizeReward applies a terminal policy outcome, guarded on the row
// still being pending.
func (s *ReferralService) finalizeReward(ctx context.Context, referralID string, status models.RewardStatus) error {
	if !models.RewardPending.CanTransitionTo(status) {
		return fmt.Errorf("invalid reward transition pending -> %s", status)
	}
	res := s.DB.WithContext(ctx).Model(&models.Referral{}).
		Where("id = ? AND reward_status = ?", referralID, models.RewardPending).
		Update("reward_status", status)
	if res.Error != nil {
		return fmt.Errorf("finalize referral %s as %s: %w", referralID, status, res.Error)
	}
	return nil
}
