package processor

import (
	"context"

	"referral-engine/internal/store"

	"github.com/google/uuid"
)

// CodeStore defines the database operations required by CodeProcessor
type CodeStore interface {
	CreateReferralCode(ctx context.Context, params store.CreateReferralCodeParams) (store.ReferralCode, error)
	GetReferralCodeByCode(ctx context.Context, code string) (store.ReferralCode, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	ListReferralCodes(ctx context.Context, limit, offset int) ([]store.ReferralCode, error)
	CountReferralCodes(ctx context.Context) (int, error)
	IncrementCodeUsage(ctx context.Context, code string) (store.ReferralCode, error)
	DeactivateReferralCode(ctx context.Context, code string) error
	CountReferralsByCodeAndStatus(ctx context.Context, code string) (store.ReferralStatusCounts, error)
	SumRewardsByCode(ctx context.Context, code string) (store.RewardTotals, error)
}

// UsageAuditor records redemption events without ever failing them
type UsageAuditor interface {
	LogUsage(ctx context.Context, code string, actingUserID uuid.UUID, redemptionContext store.JSONB)
}
