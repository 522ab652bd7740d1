package jobs

import (
	"context"
	"fmt"
	"time"

	"referral-engine/internal/audit"
	"referral-engine/internal/observability"
	"referral-engine/internal/store"
)

// StatisticsSnapshotJob recomputes per-code usage statistics on a
// schedule so that overview reads never pay for the aggregation.
type StatisticsSnapshotJob struct {
	store    *store.Store
	auditor  audit.Auditor
	logger   *observability.Logger
	interval time.Duration
}

// NewStatisticsSnapshotJob creates a new statistics snapshot job
func NewStatisticsSnapshotJob(
	store *store.Store,
	auditor audit.Auditor,
	logger *observability.Logger,
	interval time.Duration,
) *StatisticsSnapshotJob {
	if interval == 0 {
		interval = 1 * time.Hour
	}

	return &StatisticsSnapshotJob{
		store:    store,
		auditor:  auditor,
		logger:   logger,
		interval: interval,
	}
}

// Name returns the job name
func (j *StatisticsSnapshotJob) Name() string {
	return "statistics_snapshot"
}

// Schedule returns how often the job should run
func (j *StatisticsSnapshotJob) Schedule() time.Duration {
	return j.interval
}

// Run snapshots statistics for every code with recorded usage.
// Per-code failures are logged and skipped so one bad code cannot
// starve the rest of the sweep.
func (j *StatisticsSnapshotJob) Run(ctx context.Context) error {
	codes, err := j.store.ListCodesForSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to list codes for snapshot: %w", err)
	}

	successCount := 0
	errorCount := 0

	for _, code := range codes {
		codeCtx := observability.WithFields(ctx,
			observability.Field{Key: "referral_code", Value: code},
		)

		if _, err := j.auditor.SnapshotStatistics(codeCtx, code); err != nil {
			j.logger.Error(codeCtx, "Failed to snapshot statistics for code", err)
			errorCount++
			continue
		}
		successCount++
	}

	j.logger.Info(ctx, fmt.Sprintf("Statistics snapshot completed: %d succeeded, %d failed", successCount, errorCount))
	return nil
}
