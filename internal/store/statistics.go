package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const statisticsColumns = `
referral_code, total_redemptions, distinct_users, total_rewards, total_reward_amount, last_used_at, snapshot_at`

const sqlUpsertStatistics = `
INSERT INTO referral_code_statistics (referral_code, total_redemptions, distinct_users, total_rewards, total_reward_amount, last_used_at, snapshot_at)
VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP)
ON CONFLICT (referral_code) DO UPDATE
SET total_redemptions = EXCLUDED.total_redemptions,
    distinct_users = EXCLUDED.distinct_users,
    total_rewards = EXCLUDED.total_rewards,
    total_reward_amount = EXCLUDED.total_reward_amount,
    last_used_at = EXCLUDED.last_used_at,
    snapshot_at = EXCLUDED.snapshot_at
RETURNING` + statisticsColumns

// UpsertStatistics overwrites the aggregate snapshot for a code.
// Snapshots are derived data and safe to rebuild at any time.
func (s *Store) UpsertStatistics(ctx context.Context, stats CodeStatistics) (CodeStatistics, error) {
	var result CodeStatistics
	err := s.db.GetContext(ctx, &result, sqlUpsertStatistics,
		stats.ReferralCode,
		stats.TotalRedemptions,
		stats.DistinctUsers,
		stats.TotalRewards,
		stats.TotalRewardAmount,
		stats.LastUsedAt)
	if err != nil {
		s.logger.Error(ctx, "failed to upsert code statistics", err)
		return CodeStatistics{}, fmt.Errorf("failed to upsert code statistics: %w", err)
	}
	return result, nil
}

const sqlGetStatisticsByCode = `
SELECT` + statisticsColumns + `
FROM referral_code_statistics
WHERE referral_code = $1
`

// GetStatisticsByCode retrieves the latest snapshot for a code
func (s *Store) GetStatisticsByCode(ctx context.Context, code string) (CodeStatistics, error) {
	var stats CodeStatistics
	err := s.db.GetContext(ctx, &stats, sqlGetStatisticsByCode, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CodeStatistics{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get code statistics", err)
		return CodeStatistics{}, fmt.Errorf("failed to get code statistics: %w", err)
	}
	return stats, nil
}

const sqlListCodesForSnapshot = `
SELECT code
FROM referral_codes
ORDER BY created_at ASC
`

// ListCodesForSnapshot returns every code string, for the periodic
// statistics rebuild job
func (s *Store) ListCodesForSnapshot(ctx context.Context) ([]string, error) {
	var codes []string
	err := s.db.SelectContext(ctx, &codes, sqlListCodesForSnapshot)
	if err != nil {
		s.logger.Error(ctx, "failed to list codes for snapshot", err)
		return nil, fmt.Errorf("failed to list codes for snapshot: %w", err)
	}
	return codes, nil
}
