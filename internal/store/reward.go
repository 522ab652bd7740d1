package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const rewardColumns = `
id, referral_id, referral_code, amount, currency, status, created_at, updated_at`

// CreateRewardParams represents parameters for recording a reward
type CreateRewardParams struct {
	ReferralID   uuid.UUID
	ReferralCode *string
	Amount       decimal.Decimal
	Currency     string
}

const sqlCreateReward = `
INSERT INTO referral_rewards (referral_id, referral_code, amount, currency, status)
VALUES ($1, $2, $3, $4, 'pending')
RETURNING` + rewardColumns

// CreateReward records a new reward in pending status
func (s *Store) CreateReward(ctx context.Context, params CreateRewardParams) (ReferralReward, error) {
	var reward ReferralReward
	err := s.db.GetContext(ctx, &reward, sqlCreateReward,
		params.ReferralID,
		params.ReferralCode,
		params.Amount,
		params.Currency)
	if err != nil {
		s.logger.Error(ctx, "failed to create reward", err)
		return ReferralReward{}, fmt.Errorf("failed to create reward: %w", err)
	}
	return reward, nil
}

const sqlGetRewardByID = `
SELECT` + rewardColumns + `
FROM referral_rewards
WHERE id = $1
`

// GetRewardByID retrieves a reward by ID
func (s *Store) GetRewardByID(ctx context.Context, rewardID uuid.UUID) (ReferralReward, error) {
	var reward ReferralReward
	err := s.db.GetContext(ctx, &reward, sqlGetRewardByID, rewardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ReferralReward{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get reward by id", err)
		return ReferralReward{}, fmt.Errorf("failed to get reward by id: %w", err)
	}
	return reward, nil
}

const sqlGetRewardsByReferral = `
SELECT` + rewardColumns + `
FROM referral_rewards
WHERE referral_id = $1
ORDER BY created_at ASC
`

// GetRewardsByReferral retrieves all rewards attached to a referral
func (s *Store) GetRewardsByReferral(ctx context.Context, referralID uuid.UUID) ([]ReferralReward, error) {
	var rewards []ReferralReward
	err := s.db.SelectContext(ctx, &rewards, sqlGetRewardsByReferral, referralID)
	if err != nil {
		s.logger.Error(ctx, "failed to get rewards by referral", err)
		return nil, fmt.Errorf("failed to get rewards by referral: %w", err)
	}
	return rewards, nil
}

const sqlCountRewardsByReferral = `
SELECT COUNT(*)
FROM referral_rewards
WHERE referral_id = $1
`

// CountRewardsByReferral counts rewards attached to a referral
func (s *Store) CountRewardsByReferral(ctx context.Context, referralID uuid.UUID) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, sqlCountRewardsByReferral, referralID)
	if err != nil {
		s.logger.Error(ctx, "failed to count rewards by referral", err)
		return 0, fmt.Errorf("failed to count rewards by referral: %w", err)
	}
	return count, nil
}

const sqlSumRewardsByReferral = `
SELECT COALESCE(SUM(amount), 0)
FROM referral_rewards
WHERE referral_id = $1
`

// SumRewardsByReferral totals reward amounts for a referral. The
// COALESCE keeps an empty set at zero rather than NULL.
func (s *Store) SumRewardsByReferral(ctx context.Context, referralID uuid.UUID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.GetContext(ctx, &total, sqlSumRewardsByReferral, referralID)
	if err != nil {
		s.logger.Error(ctx, "failed to sum rewards by referral", err)
		return decimal.Zero, fmt.Errorf("failed to sum rewards by referral: %w", err)
	}
	return total, nil
}

// RewardTotals aggregates reward count and amount for a code
type RewardTotals struct {
	TotalRewards      int             `db:"total_rewards"`
	TotalRewardAmount decimal.Decimal `db:"total_reward_amount"`
}

const sqlSumRewardsByCode = `
SELECT COUNT(*) AS total_rewards,
       COALESCE(SUM(amount), 0) AS total_reward_amount
FROM referral_rewards
WHERE referral_code = $1
`

// SumRewardsByCode totals rewards attributed to a code, used by the
// display projection and statistics snapshots
func (s *Store) SumRewardsByCode(ctx context.Context, code string) (RewardTotals, error) {
	var totals RewardTotals
	err := s.db.GetContext(ctx, &totals, sqlSumRewardsByCode, code)
	if err != nil {
		s.logger.Error(ctx, "failed to sum rewards by code", err)
		return RewardTotals{}, fmt.Errorf("failed to sum rewards by code: %w", err)
	}
	return totals, nil
}

const sqlApplyReward = `
UPDATE referral_rewards
SET status = 'applied',
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1 AND status = 'pending'
RETURNING` + rewardColumns

// ApplyReward transitions a pending reward to applied. A reward that is
// already applied matches no row and ErrNotFound is returned; callers
// disambiguate against the current row.
func (s *Store) ApplyReward(ctx context.Context, rewardID uuid.UUID) (ReferralReward, error) {
	var reward ReferralReward
	err := s.db.GetContext(ctx, &reward, sqlApplyReward, rewardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ReferralReward{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to apply reward", err)
		return ReferralReward{}, fmt.Errorf("failed to apply reward: %w", err)
	}
	return reward, nil
}
