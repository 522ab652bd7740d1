package processor

import (
	"context"

	"referral-engine/internal/store"

	"github.com/google/uuid"
)

// ReferralStore defines the database operations required by ReferralProcessor
type ReferralStore interface {
	CreateReferral(ctx context.Context, params store.CreateReferralParams) (store.Referral, error)
	GetReferralByID(ctx context.Context, referralID uuid.UUID) (store.Referral, error)
	GetReferralByCode(ctx context.Context, code string) (store.Referral, error)
	GetActiveReferralByReferred(ctx context.Context, referredID uuid.UUID) (store.Referral, error)
	CountActiveReferralsByReferrer(ctx context.Context, referrerID uuid.UUID) (int, error)
	GetReferralsByReferrer(ctx context.Context, referrerID uuid.UUID, limit, offset int) ([]store.Referral, error)
	MarkReferralCompleted(ctx context.Context, referralID uuid.UUID) (store.Referral, error)
	MarkReferralExpired(ctx context.Context, referralID uuid.UUID) (store.Referral, error)
	SoftDeleteReferral(ctx context.Context, referralID uuid.UUID) error
	CountRewardsByReferral(ctx context.Context, referralID uuid.UUID) (int, error)
}

// CodeRegistry is the code lookup/validation surface this processor
// depends on
type CodeRegistry interface {
	FindByCode(ctx context.Context, code string) (store.ReferralCode, error)
	IsValid(code store.ReferralCode) bool
}
