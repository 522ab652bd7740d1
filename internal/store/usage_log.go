package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertUsageLogParams represents parameters for one redemption audit row
type InsertUsageLogParams struct {
	ReferralCode string
	ActingUserID uuid.UUID
	Context      JSONB
}

const sqlInsertUsageLog = `
INSERT INTO referral_code_usage_logs (referral_code, acting_user_id, context)
VALUES ($1, $2, $3)
RETURNING id, referral_code, acting_user_id, context, created_at
`

// InsertUsageLog appends one audit row for a successful redemption
func (s *Store) InsertUsageLog(ctx context.Context, params InsertUsageLogParams) (CodeUsageLog, error) {
	var usageLog CodeUsageLog
	err := s.db.GetContext(ctx, &usageLog, sqlInsertUsageLog,
		params.ReferralCode,
		params.ActingUserID,
		params.Context,
	)
	if err != nil {
		s.logger.Error(ctx, "failed to insert usage log", err)
		return CodeUsageLog{}, fmt.Errorf("failed to insert usage log: %w", err)
	}
	return usageLog, nil
}

const sqlGetUsageLogsByCode = `
SELECT id, referral_code, acting_user_id, context, created_at
FROM referral_code_usage_logs
WHERE referral_code = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

// GetUsageLogsByCode retrieves audit rows for a code with pagination
func (s *Store) GetUsageLogsByCode(ctx context.Context, code string, limit, offset int) ([]CodeUsageLog, error) {
	var usageLogs []CodeUsageLog
	err := s.db.SelectContext(ctx, &usageLogs, sqlGetUsageLogsByCode, code, limit, offset)
	if err != nil {
		s.logger.Error(ctx, "failed to get usage logs by code", err)
		return nil, fmt.Errorf("failed to get usage logs by code: %w", err)
	}
	return usageLogs, nil
}

// UsageAggregates holds counters recomputed from the usage log table
type UsageAggregates struct {
	TotalRedemptions int        `db:"total_redemptions"`
	DistinctUsers    int        `db:"distinct_users"`
	LastUsedAt       *time.Time `db:"last_used_at"`
}

const sqlAggregateUsageByCode = `
SELECT COUNT(*) AS total_redemptions,
       COUNT(DISTINCT acting_user_id) AS distinct_users,
       MAX(created_at) AS last_used_at
FROM referral_code_usage_logs
WHERE referral_code = $1
`

// AggregateUsageByCode recomputes usage counters from the audit log.
// The log is the source of truth for rebuilding statistics.
func (s *Store) AggregateUsageByCode(ctx context.Context, code string) (UsageAggregates, error) {
	var aggregates UsageAggregates
	err := s.db.GetContext(ctx, &aggregates, sqlAggregateUsageByCode, code)
	if err != nil {
		s.logger.Error(ctx, "failed to aggregate usage by code", err)
		return UsageAggregates{}, fmt.Errorf("failed to aggregate usage by code: %w", err)
	}
	return aggregates, nil
}
