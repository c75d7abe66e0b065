package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"invitation-service/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type creditCall struct {
	ProductSlug string
	CustomerID  string
	AmountCents int64
	Description string
}

type fakeGateway struct {
	mu      sync.Mutex
	calls   []creditCall
	failing bool
}

func (f *fakeGateway) ApplyReferralCredit(ctx context.Context, productSlug, customerID string, amountCents int64, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return context.DeadlineExceeded
	}
	f.calls = append(f.calls, creditCall{productSlug, customerID, amountCents, description})
	return nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Product{},
		&models.Member{},
		&models.Referral{},
		&models.InvitationRequest{},
		&models.InvitationCode{},
		&models.APIKey{},
		&models.AuditLog{},
	))
	return db
}

type engineFixture struct {
	db      *gorm.DB
	svc     *ReferralService
	gateway *fakeGateway
	now     time.Time
}

func newEngine(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		db:      newTestDB(t),
		gateway: &fakeGateway{},
		now:     time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewReferralService(f.db, f.gateway, nil)
	f.svc.now = func() time.Time { return f.now }
	return f
}

// setDay moves the fixture clock to N days after the base instant.
func (f *engineFixture) setDay(n int) {
	f.now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func (f *engineFixture) createProduct(t *testing.T, qualDays, bufferDays, capPerYear int, priceCents int64) *models.Product {
	t.Helper()
	p := &models.Product{
		ID:                           uuid.NewString(),
		Slug:                         "velorum",
		Name:                         "Velorum",
		EntityType:                   models.EntityTypeIndividual,
		ApprovalMode:                 models.ApprovalModeManual,
		TrialDays:                    14,
		ReferralRewardMonths:         1,
		ReferralCapPerYear:           capPerYear,
		ReferralQualificationDays:    qualDays,
		ReferralChargebackBufferDays: bufferDays,
		MonthlyPriceCents:            priceCents,
		IsActive:                     true,
	}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

func (f *engineFixture) createMember(t *testing.T, product *models.Product, status models.MemberStatus, opts func(*models.Member)) *models.Member {
	t.Helper()
	m := &models.Member{
		ID:        uuid.NewString(),
		ProductID: product.ID,
		Email:     uuid.NewString() + "@example.com",
		Status:    status,
	}
	if opts != nil {
		opts(m)
	}
	require.NoError(t, f.db.Create(m).Error)
	return m
}

func (f *engineFixture) createReferral(t *testing.T, product *models.Product, referrer, referred *models.Member) *models.Referral {
	t.Helper()
	r := &models.Referral{
		ID:                  uuid.NewString(),
		ProductID:           product.ID,
		ReferrerMemberID:    referrer.ID,
		ReferredMemberID:    referred.ID,
		ReferralCodeUsed:    "VELO-TEST0001",
		QualificationStatus: models.QualificationPending,
		RewardStatus:        models.RewardPending,
		RewardYear:          2026,
	}
	require.NoError(t, f.db.Create(r).Error)
	return r
}

func (f *engineFixture) reloadReferral(t *testing.T, id string) *models.Referral {
	t.Helper()
	var r models.Referral
	require.NoError(t, f.db.First(&r, "id = ?", id).Error)
	return &r
}

func strPtr(s string) *string { return &s }

func TestEvaluateNonReferredMemberIsNoop(t *testing.T) {
	f := newEngine(t)
	product := f.createProduct(t, 30, 14, 10, 2500)

	paidAt := f.now.AddDate(0, 0, -90)
	member := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.FirstPaidAt = &paidAt
	})

	require.NoError(t, f.svc.EvaluateQualification(context.Background(), member.ID))

	var count int64
	require.NoError(t, f.db.Model(&models.Referral{}).Count(&count).Error)
	require.Zero(t, count)
	require.Zero(t, f.gateway.callCount())
}

func TestEvaluateUnpaidMemberIsNoop(t *testing.T) {
	f := newEngine(t)
	product := f.createProduct(t, 30, 14, 10, 2500)

	referrer := f.createMember(t, product, models.MemberStatusActive, nil)
	referred := f.createMember(t, product, models.MemberStatusTrial, func(m *models.Member) {
		m.ReferredByMemberID = &referrer.ID
	})
	referral := f.createReferral(t, product, referrer, referred)

	require.NoError(t, f.svc.EvaluateQualification(context.Background(), referred.ID))
	require.Equal(t, models.QualificationPending, f.reloadReferral(t, referral.ID).QualificationStatus)
}

func TestEvaluateQualificationWindowBoundary(t *testing.T) {
	f := newEngine(t)
	product := f.createProduct(t, 30, 14, 10, 2500)

	referrer := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.StripeCustomerID = strPtr("cus_ref")
	})
	paidAt := f.now
	referred := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.ReferredByMemberID = &referrer.ID
		m.FirstPaidAt = &paidAt
	})
	referral := f.createReferral(t, product, referrer, referred)

	// One day short of the window: still pending.
	f.setDay(29)
	require.NoError(t, f.svc.EvaluateQualification(context.Background(), referred.ID))
	require.Equal(t, models.QualificationPending, f.reloadReferral(t, referral.ID).QualificationStatus)

	// Exactly at the window: qualified, qualified_at = now.
	f.setDay(30)
	require.NoError(t, f.svc.EvaluateQualification(context.Background(), referred.ID))
	got := f.reloadReferral(t, referral.ID)
	require.Equal(t, models.QualificationQualified, got.QualificationStatus)
	require.NotNil(t, got.QualifiedAt)
	require.WithinDuration(t, f.now, *got.QualifiedAt, time.Second)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	f := newEngine(t)
	product := f.createProduct(t, 30, 14, 10, 2500)

	referrer := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.StripeCustomerID = strPtr("cus_ref")
	})
	paidAt := f.now
	referred := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.ReferredByMemberID = &referrer.ID
		m.FirstPaidAt = &paidAt
	})
	referral := f.createReferral(t, product, referrer, referred)

	f.setDay(30)
	require.NoError(t, f.svc.EvaluateQualification(context.Background(), referred.ID))
	first := f.reloadReferral(t, referral.ID)

	f.setDay(35)
	require.NoError(t, f.svc.EvaluateQualification(context.Background(), referred.ID))
	second := f.reloadReferral(t, referral.ID)

	require.Equal(t, models.QualificationQualified, second.QualificationStatus)
	require.Equal(t, first.QualifiedAt.Unix(), second.QualifiedAt.Unix())
}

func TestEvaluateMissingReferralRowIsReported(t *testing.T) {
	f := newEngine(t)
	product := f.createProduct(t, 30, 14, 10, 2500)

	referrer := f.createMember(t, product, models.MemberStatusActive, nil)
	paidAt := f.now.AddDate(0, 0, -60)
	referred := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.ReferredByMemberID = &referrer.ID
		m.FirstPaidAt = &paidAt
	})

	err := f.svc.EvaluateQualification(context.Background(), referred.ID)
	require.ErrorIs(t, err, ErrReferralMissing)
}

func TestDisburseIdempotentOnCredited(t *testing.T) {
	f := newEngine(t)
	product := f.createProduct(t, 30, 0, 10, 2500)

	referrer := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.StripeCustomerID = strPtr("cus_ref")
	})
	paidAt := f.now
	referred := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.ReferredByMemberID = &referrer.ID
		m.FirstPaidAt = &paidAt
	})
	referral := f.createReferral(t, product, referrer, referred)

	// Zero buffer: qualification disburses synchronously.
	f.setDay(30)
	require.NoError(t, f.svc.EvaluateQualification(context.Background(), referred.ID))
	require.Equal(t, models.RewardCredited, f.reloadReferral(t, referral.ID).RewardStatus)
	require.Equal(t, 1, f.gateway.callCount())

	require.NoError(t, f.svc.DisburseReward(context.Background(), referral.ID))
	require.Equal(t, 1, f.gateway.callCount())
}

func TestDisburseForfeitedWhenReferrerSuspended(t *testing.T) {
	f := newEngine(t)
	product := f.createProduct(t, 30, 0, 10, 2500)

	referrer := f.createMember(t, product, models.MemberStatusSuspended, func(m *models.Member) {
		m.StripeCustomerID = strPtr("cus_ref")
	})
	referred := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.ReferredByMemberID = &referrer.ID
	})
	referral := f.createReferral(t, product, referrer, referred)
	qualifiedAt := f.now
	require.NoError(t, f.db.Model(referral).Updates(map[string]interface{}{
		"qualification_status": models.QualificationQualified,
		"qualified_at":         qualifiedAt,
	}).Error)

	require.NoError(t, f.svc.DisburseReward(context.Background(), referral.ID))

	got := f.reloadReferral(t, referral.ID)
	require.Equal(t, models.RewardForfeited, got.RewardStatus)
	require.Nil(t, got.RewardCreditedAt)
	require.Zero(t, f.gateway.callCount())
}

func TestDisburseCapEnforced(t *testing.T) {
	f := newEngine(t)
	product := f.createProduct(t, 30, 0, 10, 2500)

	referrer := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.StripeCustomerID = strPtr("cus_ref")
	})

	// Ten already-credited referrals this reward year.
	for i := 0; i < 10; i++ {
		referred := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
			m.ReferredByMemberID = &referrer.ID
		})
		r := f.createReferral(t, product, referrer, referred)
		creditedAt := f.now
		require.NoError(t, f.db.Model(r).Updates(map[string]interface{}{
			"qualification_status": models.QualificationQualified,
			"qualified_at":         creditedAt,
			"reward_status":        models.RewardCredited,
			"reward_credited_at":   creditedAt,
		}).Error)
	}

	eleventh := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.ReferredByMemberID = &referrer.ID
	})
	referral := f.createReferral(t, product, referrer, eleventh)
	qualifiedAt := f.now
	require.NoError(t, f.db.Model(referral).Updates(map[string]interface{}{
		"qualification_status": models.QualificationQualified,
		"qualified_at":         qualifiedAt,
	}).Error)

	require.NoError(t, f.svc.DisburseReward(context.Background(), referral.ID))

	got := f.reloadReferral(t, referral.ID)
	require.Equal(t, models.RewardCapped, got.RewardStatus)
	require.Zero(t, f.gateway.callCount())
}

func TestDisburseConcurrentCapSerialized(t *testing.T) {
	f := newEngine(t)
	product := f.createProduct(t, 30, 0, 1, 2500)

	referrer := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.StripeCustomerID = strPtr("cus_ref")
	})

	// Two due referrals competing for a cap of one.
	ids := make([]string, 2)
	for i := range ids {
		referred := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
			m.ReferredByMemberID = &referrer.ID
		})
		r := f.createReferral(t, product, referrer, referred)
		qualifiedAt := f.now.AddDate(0, 0, -1)
		require.NoError(t, f.db.Model(r).Updates(map[string]interface{}{
			"qualification_status": models.QualificationQualified,
			"qualified_at":         qualifiedAt,
		}).Error)
		ids[i] = r.ID
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = f.svc.DisburseReward(context.Background(), id)
		}(i, id)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	var credited, capped int64
	require.NoError(t, f.db.Model(&models.Referral{}).
		Where("reward_status = ?", models.RewardCredited).Count(&credited).Error)
	require.NoError(t, f.db.Model(&models.Referral{}).
		Where("reward_status = ?", models.RewardCapped).Count(&capped).Error)
	require.EqualValues(t, 1, credited)
	require.EqualValues(t, 1, capped)
	require.Equal(t, 1, f.gateway.callCount())
}

func TestDisburseMissingBillingIdentityStaysPending(t *testing.T) {
	f := newEngine(t)
	product := f.createProduct(t, 30, 0, 10, 2500)

	referrer := f.createMember(t, product, models.MemberStatusActive, nil)
	referred := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.ReferredByMemberID = &referrer.ID
	})
	referral := f.createReferral(t, product, referrer, referred)
	qualifiedAt := f.now
	require.NoError(t, f.db.Model(referral).Updates(map[string]interface{}{
		"qualification_status": models.QualificationQualified,
		"qualified_at":         qualifiedAt,
	}).Error)

	err := f.svc.DisburseReward(context.Background(), referral.ID)
	require.ErrorIs(t, err, ErrNoBillingIdentity)

	require.Equal(t, models.RewardPending, f.reloadReferral(t, referral.ID).RewardStatus)
	require.Zero(t, f.gateway.callCount())
}

func TestGatewayFailureRetriedBySweep(t *testing.T) {
	f := newEngine(t)
	product := f.createProduct(t, 30, 0, 10, 2500)

	referrer := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.StripeCustomerID = strPtr("cus_ref")
	})
	referred := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.ReferredByMemberID = &referrer.ID
	})
	referral := f.createReferral(t, product, referrer, referred)
	qualifiedAt := f.now
	require.NoError(t, f.db.Model(referral).Updates(map[string]interface{}{
		"qualification_status": models.QualificationQualified,
		"qualified_at":         qualifiedAt,
	}).Error)

	f.gateway.failing = true
	err := f.svc.DisburseReward(context.Background(), referral.ID)
	require.ErrorIs(t, err, ErrGatewayFailure)
	require.Equal(t, models.RewardPending, f.reloadReferral(t, referral.ID).RewardStatus)

	// Next sweep retries and succeeds; exactly one credit.
	f.gateway.failing = false
	require.NoError(t, f.svc.SweepPendingRewards(context.Background()))
	require.Equal(t, models.RewardCredited, f.reloadReferral(t, referral.ID).RewardStatus)
	require.Equal(t, 1, f.gateway.callCount())

	// A further sweep finds nothing to do.
	require.NoError(t, f.svc.SweepPendingRewards(context.Background()))
	require.Equal(t, 1, f.gateway.callCount())
}

func TestFullLifecycleScenario(t *testing.T) {
	// Product: 30-day window, 14-day buffer, $25/month.
	f := newEngine(t)
	product := f.createProduct(t, 30, 14, 10, 2500)

	referrer := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.StripeCustomerID = strPtr("cus_referrer")
	})
	paidAt := f.now // day 0
	referred := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.ReferredByMemberID = &referrer.ID
		m.FirstPaidAt = &paidAt
	})
	referral := f.createReferral(t, product, referrer, referred)

	// Day 29: window not elapsed.
	f.setDay(29)
	require.NoError(t, f.svc.OnPaymentSucceeded(context.Background(), referred.ID))
	require.Equal(t, models.QualificationPending, f.reloadReferral(t, referral.ID).QualificationStatus)

	// Day 30: qualified, but buffer holds the money back.
	f.setDay(30)
	require.NoError(t, f.svc.OnPaymentSucceeded(context.Background(), referred.ID))
	got := f.reloadReferral(t, referral.ID)
	require.Equal(t, models.QualificationQualified, got.QualificationStatus)
	require.Equal(t, models.RewardPending, got.RewardStatus)
	require.Zero(t, f.gateway.callCount())

	// Day 43: one day short of qualified_at + 14.
	f.setDay(43)
	require.NoError(t, f.svc.SweepPendingRewards(context.Background()))
	require.Equal(t, models.RewardPending, f.reloadReferral(t, referral.ID).RewardStatus)
	require.Zero(t, f.gateway.callCount())

	// Day 44: buffer elapsed, credit lands.
	f.setDay(44)
	require.NoError(t, f.svc.SweepPendingRewards(context.Background()))
	got = f.reloadReferral(t, referral.ID)
	require.Equal(t, models.RewardCredited, got.RewardStatus)
	require.NotNil(t, got.RewardCreditedAt)

	require.Equal(t, 1, f.gateway.callCount())
	call := f.gateway.calls[0]
	require.Equal(t, "velorum", call.ProductSlug)
	require.Equal(t, "cus_referrer", call.CustomerID)
	require.Equal(t, int64(2500), call.AmountCents)
	require.Equal(t, "Referral reward - 1 free month", call.Description)
}

func TestSweepIsolatesRowFailures(t *testing.T) {
	f := newEngine(t)
	product := f.createProduct(t, 30, 0, 10, 2500)

	// First referral has no billing identity (fails), second is fine.
	badReferrer := f.createMember(t, product, models.MemberStatusActive, nil)
	goodReferrer := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
		m.StripeCustomerID = strPtr("cus_good")
	})

	for _, referrer := range []*models.Member{badReferrer, goodReferrer} {
		referred := f.createMember(t, product, models.MemberStatusActive, func(m *models.Member) {
			m.ReferredByMemberID = &referrer.ID
		})
		r := f.createReferral(t, product, referrer, referred)
		qualifiedAt := f.now.AddDate(0, 0, -1)
		require.NoError(t, f.db.Model(r).Updates(map[string]interface{}{
			"qualification_status": models.QualificationQualified,
			"qualified_at":         qualifiedAt,
		}).Error)
	}

	require.NoError(t, f.svc.SweepPendingRewards(context.Background()))

	// The good referral credited despite the bad one failing.
	require.Equal(t, 1, f.gateway.callCount())
	require.Equal(t, "cus_good", f.gateway.calls[0].CustomerID)
}
