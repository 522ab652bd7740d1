package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"referral-engine/internal/audit"
	kafkaClient "referral-engine/internal/clients/kafka"
	redisClient "referral-engine/internal/clients/redis"
	codeHandler "referral-engine/internal/codes/handler"
	codeProcessor "referral-engine/internal/codes/processor"
	"referral-engine/internal/config"
	"referral-engine/internal/events"
	"referral-engine/internal/observability"
	"referral-engine/internal/ratelimit"
	referralHandler "referral-engine/internal/referrals/handler"
	referralProcessor "referral-engine/internal/referrals/processor"
	rewardHandler "referral-engine/internal/rewards/handler"
	rewardProcessor "referral-engine/internal/rewards/processor"
	"referral-engine/internal/store"
)

// Dependencies holds all initialized application dependencies
type Dependencies struct {
	// Core
	Store   store.Store
	Logger  *observability.Logger
	Auditor audit.Auditor

	// Handlers
	CodeHandler     codeHandler.Handler
	ReferralHandler referralHandler.Handler
	RewardHandler   rewardHandler.Handler

	// Rate limiting for the public redeem endpoint
	RateLimiter *ratelimit.Service

	// Clients (for cleanup)
	KafkaProducer *kafkaClient.Producer
	Redis         *redisClient.Client
}

// Initialize sets up all application dependencies
func Initialize(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Logger: logger,
	}

	var err error
	deps.Store, err = store.New(cfg.Database.ConnectionString(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Kafka producer and event dispatcher
	brokerList := strings.Split(cfg.Kafka.Brokers, ",")
	deps.KafkaProducer = kafkaClient.NewProducer(kafkaClient.ProducerConfig{
		Brokers: brokerList,
		Topic:   cfg.Kafka.Topic,
	}, logger)
	dispatcher := events.NewDispatcher(deps.KafkaProducer, logger)

	// Redis is optional; rate limiting degrades to pass-through without it
	deps.Redis, err = redisClient.NewClient(cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	deps.RateLimiter = ratelimit.NewService(deps.Redis, cfg.Server.RedeemRateLimit, logger)

	// Auditor records redemption usage and maintains statistics snapshots
	deps.Auditor = audit.New(&deps.Store, logger)

	codeProc := codeProcessor.New(&deps.Store, &deps.Auditor, dispatcher, logger)

	// Referral processor consults the code processor when attaching
	// codes; the code handler uses it to record redemption pairings
	referralProc := referralProcessor.New(&deps.Store, &codeProc, dispatcher, logger)
	deps.CodeHandler = codeHandler.New(codeProc, referralProc, deps.Auditor, logger)

	// Reward processor reads back referrals to validate issuance
	rewardProc := rewardProcessor.New(&deps.Store, &referralProc, &codeProc, dispatcher, logger)
	deps.RewardHandler = rewardHandler.New(rewardProc, logger)
	deps.ReferralHandler = referralHandler.New(referralProc, rewardProc, logger)

	return deps, nil
}

// Cleanup closes all resources that need cleanup
func (d *Dependencies) Cleanup() {
	if d.KafkaProducer != nil {
		d.KafkaProducer.Close()
	}
	if d.Redis != nil {
		d.Redis.Close()
	}
}
