package processor

import (
	"context"
	"errors"

	"referral-engine/internal/events"
	"referral-engine/internal/observability"
	"referral-engine/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrRewardNotFound = errors.New("reward not found")
	ErrInvalidAmount  = errors.New("reward amount must not be negative")
	ErrAlreadyApplied = errors.New("reward has already been applied")
)

const defaultCurrency = "USD"

var oneHundred = decimal.NewFromInt(100)

type RewardProcessor struct {
	store      RewardStore
	referrals  ReferralLedger
	codes      CodeRegistry
	dispatcher *events.Dispatcher
	logger     *observability.Logger
}

func New(store RewardStore, referrals ReferralLedger, codes CodeRegistry, dispatcher *events.Dispatcher, logger *observability.Logger) RewardProcessor {
	return RewardProcessor{
		store:      store,
		referrals:  referrals,
		codes:      codes,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// ComputeAmount derives the reward amount from a code's reward policy.
// Fixed rewards return the configured amount unchanged; percentage
// rewards take that share of the conversion's order total. The second
// return is false when the code has no reward configured.
func (p *RewardProcessor) ComputeAmount(code store.ReferralCode, orderTotal decimal.Decimal) (decimal.Decimal, bool) {
	if code.RewardAmount == nil || code.RewardType == nil {
		return decimal.Zero, false
	}

	switch *code.RewardType {
	case store.RewardTypeFixed:
		return *code.RewardAmount, true
	case store.RewardTypePercentage:
		return orderTotal.Mul(*code.RewardAmount).Div(oneHundred), true
	default:
		return decimal.Zero, false
	}
}

// Issue records a reward in pending status. Rewards are append-only:
// the row never mutates after creation, only its status transitions.
func (p *RewardProcessor) Issue(ctx context.Context, referralID uuid.UUID, code *string, amount decimal.Decimal, currency string) (store.ReferralReward, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "referral_id", Value: referralID.String()},
		observability.Field{Key: "amount", Value: amount.String()},
	)

	if amount.IsNegative() {
		return store.ReferralReward{}, ErrInvalidAmount
	}
	if currency == "" {
		currency = defaultCurrency
	}

	if _, err := p.referrals.Get(ctx, referralID); err != nil {
		return store.ReferralReward{}, err
	}

	reward, err := p.store.CreateReward(ctx, store.CreateRewardParams{
		ReferralID:   referralID,
		ReferralCode: code,
		Amount:       amount,
		Currency:     currency,
	})
	if err != nil {
		return store.ReferralReward{}, err
	}

	p.dispatcher.Dispatch(ctx, events.EventRewardIssued, code, map[string]interface{}{
		"reward_id":   reward.ID.String(),
		"referral_id": reward.ReferralID.String(),
		"amount":      reward.Amount.String(),
		"currency":    reward.Currency,
	})

	p.logger.Info(ctx, "reward issued")
	return reward, nil
}

// IssueForConversion materializes the reward for a completed referral
// given the conversion's order total. Referrals without a bound code
// or with a code carrying no reward policy yield no reward, which is
// not an error. A referral that already carries a reward returns the
// existing one, so retried conversions never issue a duplicate.
func (p *RewardProcessor) IssueForConversion(ctx context.Context, referral store.Referral, orderTotal decimal.Decimal, currency string) (*store.ReferralReward, error) {
	if referral.ReferralCode == nil {
		return nil, nil
	}

	existing, err := p.store.GetRewardsByReferral(ctx, referral.ID)
	if err != nil {
		p.logger.Error(ctx, "failed to check existing conversion rewards", err)
		return nil, err
	}
	if len(existing) > 0 {
		return &existing[0], nil
	}

	code, err := p.codes.FindByCode(ctx, *referral.ReferralCode)
	if err != nil {
		p.logger.Error(ctx, "failed to resolve code for conversion reward", err)
		return nil, err
	}

	amount, ok := p.ComputeAmount(code, orderTotal)
	if !ok {
		return nil, nil
	}

	reward, err := p.Issue(ctx, referral.ID, referral.ReferralCode, amount, currency)
	if err != nil {
		return nil, err
	}
	return &reward, nil
}

// TotalRewardAmount sums all reward amounts attached to a referral.
// An empty set totals zero.
func (p *RewardProcessor) TotalRewardAmount(ctx context.Context, referralID uuid.UUID) (decimal.Decimal, error) {
	total, err := p.store.SumRewardsByReferral(ctx, referralID)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// ListByReferral retrieves all rewards attached to a referral
func (p *RewardProcessor) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]store.ReferralReward, error) {
	rewards, err := p.store.GetRewardsByReferral(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if rewards == nil {
		rewards = []store.ReferralReward{}
	}
	return rewards, nil
}

// Apply transitions a pending reward to applied. Idempotence against
// double-application is reported as ErrAlreadyApplied.
func (p *RewardProcessor) Apply(ctx context.Context, rewardID uuid.UUID) (store.ReferralReward, error) {
	ctx = observability.WithFields(ctx, observability.Field{Key: "reward_id", Value: rewardID.String()})

	reward, err := p.store.ApplyReward(ctx, rewardID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Guard matched no row: either missing or already applied.
			existing, getErr := p.store.GetRewardByID(ctx, rewardID)
			if getErr != nil {
				if errors.Is(getErr, store.ErrNotFound) {
					return store.ReferralReward{}, ErrRewardNotFound
				}
				return store.ReferralReward{}, getErr
			}
			if existing.Status == store.RewardStatusApplied {
				return store.ReferralReward{}, ErrAlreadyApplied
			}
			return store.ReferralReward{}, ErrRewardNotFound
		}
		return store.ReferralReward{}, err
	}

	p.dispatcher.Dispatch(ctx, events.EventRewardApplied, reward.ReferralCode, map[string]interface{}{
		"reward_id": reward.ID.String(),
		"amount":    reward.Amount.String(),
		"currency":  reward.Currency,
	})

	p.logger.Info(ctx, "reward applied")
	return reward, nil
}
