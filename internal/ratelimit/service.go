package ratelimit

import (
	"context"
	"fmt"
	"time"

	"referral-engine/internal/clients/redis"
	"referral-engine/internal/observability"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Result represents the outcome of a rate limit check
type Result struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Service handles rate limiting for the public redemption endpoint
type Service struct {
	redis  *redis.Client
	limit  int
	logger *observability.Logger
}

// NewService creates a new rate limiting service. limit is requests
// per minute per client.
func NewService(redis *redis.Client, limit int, logger *observability.Logger) *Service {
	return &Service{
		redis:  redis,
		limit:  limit,
		logger: logger,
	}
}

// Check applies a sliding-window rate limit for one client key using
// Redis sorted sets. Without a usable Redis connection the check
// passes: the conditional usage increment in the store remains the
// hard guard, rate limiting only sheds abusive traffic earlier.
func (s *Service) Check(ctx context.Context, clientKey string) (Result, error) {
	if !s.redis.IsEnabled() {
		return Result{Allowed: true, Limit: s.limit, Remaining: s.limit}, nil
	}

	key := fmt.Sprintf("rl:redeem:%s", clientKey)
	now := time.Now()
	windowStart := now.Add(-1 * time.Minute)
	client := s.redis.GetClient()

	// Drop entries outside the 1-minute window.
	err := client.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixMilli())).Err()
	if err != nil {
		return Result{}, fmt.Errorf("failed to remove old entries: %w", err)
	}

	count, err := client.ZCard(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("failed to count requests: %w", err)
	}

	if int(count) >= s.limit {
		return Result{
			Allowed:   false,
			Limit:     s.limit,
			Remaining: 0,
			ResetAt:   now.Add(time.Minute),
		}, nil
	}

	err = client.ZAdd(ctx, key, goredis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String()),
	}).Err()
	if err != nil {
		return Result{}, fmt.Errorf("failed to record request: %w", err)
	}

	if err := client.Expire(ctx, key, 2*time.Minute).Err(); err != nil {
		return Result{}, fmt.Errorf("failed to set key expiry: %w", err)
	}

	return Result{
		Allowed:   true,
		Limit:     s.limit,
		Remaining: s.limit - int(count) - 1,
		ResetAt:   now.Add(time.Minute),
	}, nil
}
