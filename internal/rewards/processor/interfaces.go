package processor

import (
	"context"

	"referral-engine/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RewardStore defines the database operations required by RewardProcessor
type RewardStore interface {
	CreateReward(ctx context.Context, params store.CreateRewardParams) (store.ReferralReward, error)
	GetRewardByID(ctx context.Context, rewardID uuid.UUID) (store.ReferralReward, error)
	GetRewardsByReferral(ctx context.Context, referralID uuid.UUID) ([]store.ReferralReward, error)
	SumRewardsByReferral(ctx context.Context, referralID uuid.UUID) (decimal.Decimal, error)
	ApplyReward(ctx context.Context, rewardID uuid.UUID) (store.ReferralReward, error)
}

// ReferralLedger is the referral lookup surface this processor depends on
type ReferralLedger interface {
	Get(ctx context.Context, referralID uuid.UUID) (store.Referral, error)
}

// CodeRegistry is the code lookup surface this processor depends on
type CodeRegistry interface {
	FindByCode(ctx context.Context, code string) (store.ReferralCode, error)
}
