package audit

import (
	"context"

	"referral-engine/internal/observability"
	"referral-engine/internal/store"

	"github.com/google/uuid"
)

// Store defines the database operations required by the Auditor
type Store interface {
	InsertUsageLog(ctx context.Context, params store.InsertUsageLogParams) (store.CodeUsageLog, error)
	GetUsageLogsByCode(ctx context.Context, code string, limit, offset int) ([]store.CodeUsageLog, error)
	AggregateUsageByCode(ctx context.Context, code string) (store.UsageAggregates, error)
	GetStatisticsByCode(ctx context.Context, code string) (store.CodeStatistics, error)
	SumRewardsByCode(ctx context.Context, code string) (store.RewardTotals, error)
	UpsertStatistics(ctx context.Context, stats store.CodeStatistics) (store.CodeStatistics, error)
}

// Auditor records redemption audit rows and maintains per-code
// aggregate snapshots. The usage counter on the code itself is the
// source of truth for limit enforcement; audit rows are auxiliary data
// rebuilt into statistics on demand.
type Auditor struct {
	store  Store
	logger *observability.Logger
}

// New creates a new Auditor
func New(store Store, logger *observability.Logger) Auditor {
	return Auditor{
		store:  store,
		logger: logger,
	}
}

// LogUsage appends one audit row for a successful redemption. Logging
// is best-effort: a failure is surfaced on the operator error channel
// and must never roll back the already-committed usage increment, so
// no error is returned to the caller.
func (a *Auditor) LogUsage(ctx context.Context, code string, actingUserID uuid.UUID, redemptionContext store.JSONB) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "referral_code", Value: code},
		observability.Field{Key: "acting_user_id", Value: actingUserID.String()},
	)

	_, err := a.store.InsertUsageLog(ctx, store.InsertUsageLogParams{
		ReferralCode: code,
		ActingUserID: actingUserID,
		Context:      redemptionContext,
	})
	if err != nil {
		a.logger.Error(ctx, "failed to record redemption audit log", err)
	}
}

// Statistics returns the stored snapshot for a code. Callers wanting
// fresh numbers trigger SnapshotStatistics instead.
func (a *Auditor) Statistics(ctx context.Context, code string) (store.CodeStatistics, error) {
	return a.store.GetStatisticsByCode(ctx, code)
}

// UsageHistory returns audit rows for a code, newest first
func (a *Auditor) UsageHistory(ctx context.Context, code string, page, limit int) ([]store.CodeUsageLog, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	logs, err := a.store.GetUsageLogsByCode(ctx, code, limit, offset)
	if err != nil {
		a.logger.Error(ctx, "failed to read usage logs", err)
		return nil, err
	}
	if logs == nil {
		logs = []store.CodeUsageLog{}
	}
	return logs, nil
}

// SnapshotStatistics recomputes the aggregate counters for a code from
// usage logs and rewards, then overwrites the stored snapshot.
// Idempotent: repeated runs converge on the same row.
func (a *Auditor) SnapshotStatistics(ctx context.Context, code string) (store.CodeStatistics, error) {
	ctx = observability.WithFields(ctx, observability.Field{Key: "referral_code", Value: code})

	usage, err := a.store.AggregateUsageByCode(ctx, code)
	if err != nil {
		a.logger.Error(ctx, "failed to aggregate usage logs", err)
		return store.CodeStatistics{}, err
	}

	rewards, err := a.store.SumRewardsByCode(ctx, code)
	if err != nil {
		a.logger.Error(ctx, "failed to aggregate rewards", err)
		return store.CodeStatistics{}, err
	}

	stats, err := a.store.UpsertStatistics(ctx, store.CodeStatistics{
		ReferralCode:      code,
		TotalRedemptions:  usage.TotalRedemptions,
		DistinctUsers:     usage.DistinctUsers,
		TotalRewards:      rewards.TotalRewards,
		TotalRewardAmount: rewards.TotalRewardAmount,
		LastUsedAt:        usage.LastUsedAt,
	})
	if err != nil {
		a.logger.Error(ctx, "failed to store statistics snapshot", err)
		return store.CodeStatistics{}, err
	}

	return stats, nil
}
