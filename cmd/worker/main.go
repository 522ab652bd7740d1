package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"referral-engine/internal/audit"
	"referral-engine/internal/config"
	"referral-engine/internal/jobs/scheduler"
	"referral-engine/internal/jobs/scheduler/jobs"
	"referral-engine/internal/observability"
	"referral-engine/internal/store"
)

func main() {
	logger := observability.NewLogger()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "Starting background worker...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	dataStore, err := store.New(cfg.Database.ConnectionString(), logger)
	if err != nil {
		log.Fatalf("failed to initialize store: %v", err)
	}

	auditor := audit.New(&dataStore, logger)

	sched := scheduler.New(logger)
	sched.Register(jobs.NewStatisticsSnapshotJob(&dataStore, auditor, logger, cfg.Jobs.StatisticsInterval))
	sched.Register(jobs.NewReferralExpiryJob(&dataStore, logger, cfg.Jobs.ExpiryInterval))

	if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("scheduler stopped with error: %v", err)
	}

	logger.Info(context.Background(), "Worker exited gracefully")
}
