package events

import (
	"context"
	"time"

	"referral-engine/internal/clients/kafka"
	"referral-engine/internal/observability"

	"github.com/google/uuid"
)

// Event types
const (
	EventCodeRedeemed = "code.redeemed"

	EventReferralCreated   = "referral.created"
	EventReferralCompleted = "referral.completed"
	EventReferralExpired   = "referral.expired"

	EventRewardIssued  = "reward.issued"
	EventRewardApplied = "reward.applied"
)

// Publisher is the outbound transport the dispatcher writes to.
type Publisher interface {
	PublishEvent(ctx context.Context, event kafka.EventMessage) error
}

// Dispatcher publishes engine lifecycle events for external consumers
// (payout systems, analytics). Publishing is best-effort: a failed
// publish is logged and never fails the business operation that
// triggered it.
type Dispatcher struct {
	producer Publisher
	logger   *observability.Logger
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(producer Publisher, logger *observability.Logger) *Dispatcher {
	return &Dispatcher{
		producer: producer,
		logger:   logger,
	}
}

// Dispatch publishes one event. Safe to call on a nil dispatcher so
// wiring without Kafka stays valid.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, referralCode *string, data map[string]interface{}) {
	if d == nil || d.producer == nil {
		return
	}

	event := kafka.EventMessage{
		ID:           uuid.New().String(),
		Type:         eventType,
		ReferralCode: referralCode,
		Data:         data,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}

	if err := d.producer.PublishEvent(ctx, event); err != nil {
		d.logger.Error(ctx, "failed to dispatch event", err)
	}
}
