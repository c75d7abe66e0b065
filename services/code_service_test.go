package services

import (
	"context"
	"testing"
	"time"

	"invitation-service/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRedeemReferralCodeCreatesEdge(t *testing.T) {
	db := newTestDB(t)
	svc := NewCodeService(db, nil, nil)

	product := &models.Product{
		ID: uuid.NewString(), Slug: "velorum", Name: "Velorum",
		TrialDays: 14, ReferralCapPerYear: 10,
	}
	require.NoError(t, db.Create(product).Error)

	referrer := &models.Member{
		ID: uuid.NewString(), ProductID: product.ID,
		Email: "anna@example.com", Name: "Anna",
		Status: models.MemberStatusActive,
	}
	require.NoError(t, db.Create(referrer).Error)

	code, err := svc.GenerateCode(context.Background(), product, CodeOptions{
		CodeType:            models.CodeTypeReferral,
		GeneratedByMemberID: &referrer.ID,
	})
	require.NoError(t, err)
	require.Equal(t, models.CodeStatusActive, code.Status)

	member, err := svc.RedeemCode(context.Background(), code.Code, "Ben@Example.com", "Ben", "cus_ben")
	require.NoError(t, err)
	require.Equal(t, "ben@example.com", member.Email)
	require.Equal(t, models.MemberStatusTrial, member.Status)
	require.NotNil(t, member.ReferredByMemberID)
	require.Equal(t, referrer.ID, *member.ReferredByMemberID)
	require.NotNil(t, member.ReferralCode)

	var referral models.Referral
	require.NoError(t, db.First(&referral, "referred_member_id = ?", member.ID).Error)
	require.Equal(t, referrer.ID, referral.ReferrerMemberID)
	require.Equal(t, models.QualificationPending, referral.QualificationStatus)
	require.Equal(t, models.RewardPending, referral.RewardStatus)
	require.Equal(t, time.Now().Year(), referral.RewardYear)

	var redeemed models.InvitationCode
	require.NoError(t, db.First(&redeemed, "id = ?", code.ID).Error)
	require.Equal(t, models.CodeStatusRedeemed, redeemed.Status)
	require.Equal(t, member.ID, *redeemed.RedeemedByMemberID)
}

func TestRedeemStandardCodeHasNoEdge(t *testing.T) {
	db := newTestDB(t)
	svc := NewCodeService(db, nil, nil)

	product := &models.Product{ID: uuid.NewString(), Slug: "velorum", Name: "Velorum", TrialDays: 7}
	require.NoError(t, db.Create(product).Error)

	code, err := svc.GenerateCode(context.Background(), product, CodeOptions{})
	require.NoError(t, err)

	member, err := svc.RedeemCode(context.Background(), code.Code, "carol@example.com", "Carol", "")
	require.NoError(t, err)
	require.Nil(t, member.ReferredByMemberID)

	var count int64
	require.NoError(t, db.Model(&models.Referral{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRedeemTwiceFails(t *testing.T) {
	db := newTestDB(t)
	svc := NewCodeService(db, nil, nil)

	product := &models.Product{ID: uuid.NewString(), Slug: "velorum", Name: "Velorum", TrialDays: 7}
	require.NoError(t, db.Create(product).Error)

	code, err := svc.GenerateCode(context.Background(), product, CodeOptions{})
	require.NoError(t, err)

	_, err = svc.RedeemCode(context.Background(), code.Code, "dave@example.com", "Dave", "")
	require.NoError(t, err)

	_, err = svc.RedeemCode(context.Background(), code.Code, "erin@example.com", "Erin", "")
	require.ErrorIs(t, err, ErrCodeNotActive)
}

func TestRedeemRejectsInactiveReferrer(t *testing.T) {
	db := newTestDB(t)
	svc := NewCodeService(db, nil, nil)

	product := &models.Product{ID: uuid.NewString(), Slug: "velorum", Name: "Velorum", TrialDays: 7}
	require.NoError(t, db.Create(product).Error)

	referrer := &models.Member{
		ID: uuid.NewString(), ProductID: product.ID,
		Email: "gone@example.com", Status: models.MemberStatusChurned,
	}
	require.NoError(t, db.Create(referrer).Error)

	code, err := svc.GenerateCode(context.Background(), product, CodeOptions{
		CodeType:            models.CodeTypeReferral,
		GeneratedByMemberID: &referrer.ID,
	})
	require.NoError(t, err)

	result, err := svc.ValidateCode(context.Background(), code.Code)
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, "Referrer is no longer active", result.Error)

	_, err = svc.RedeemCode(context.Background(), code.Code, "frank@example.com", "Frank", "")
	require.ErrorIs(t, err, ErrReferrerInactive)
}

func TestValidateUnknownCode(t *testing.T) {
	db := newTestDB(t)
	svc := NewCodeService(db, nil, nil)

	result, err := svc.ValidateCode(context.Background(), "NOPE-00000000")
	require.NoError(t, err)
	require.False(t, result.Valid)
	require.Equal(t, "Code not found", result.Error)
}
