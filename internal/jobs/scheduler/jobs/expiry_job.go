package jobs

import (
	"context"
	"fmt"
	"time"

	"referral-engine/internal/observability"
	"referral-engine/internal/store"
)

// ReferralExpiryJob moves pending referrals past their deadline into
// the expired state.
type ReferralExpiryJob struct {
	store    *store.Store
	logger   *observability.Logger
	interval time.Duration
}

// NewReferralExpiryJob creates a new referral expiry job
func NewReferralExpiryJob(store *store.Store, logger *observability.Logger, interval time.Duration) *ReferralExpiryJob {
	if interval == 0 {
		interval = 15 * time.Minute
	}

	return &ReferralExpiryJob{
		store:    store,
		logger:   logger,
		interval: interval,
	}
}

// Name returns the job name
func (j *ReferralExpiryJob) Name() string {
	return "referral_expiry"
}

// Schedule returns how often the job should run
func (j *ReferralExpiryJob) Schedule() time.Duration {
	return j.interval
}

// Run expires all overdue pending referrals in one statement. Only
// pending rows transition, so a referral completed between sweeps is
// never touched.
func (j *ReferralExpiryJob) Run(ctx context.Context) error {
	expired, err := j.store.ExpireDueReferrals(ctx)
	if err != nil {
		return fmt.Errorf("failed to expire due referrals: %w", err)
	}

	if expired > 0 {
		j.logger.Info(ctx, fmt.Sprintf("Expired %d overdue referrals", expired))
	}
	return nil
}
