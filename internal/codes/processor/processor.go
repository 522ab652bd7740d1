package processor

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"referral-engine/internal/conditions"
	"referral-engine/internal/events"
	"referral-engine/internal/observability"
	"referral-engine/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidCode         = errors.New("referral code not found")
	ErrCodeInactive        = errors.New("referral code is inactive")
	ErrCodeExpired         = errors.New("referral code has expired")
	ErrUsageLimitReached   = errors.New("referral code usage limit reached")
	ErrConditionNotMet     = errors.New("referral code conditions not met")
	ErrInvalidRewardConfig = errors.New("invalid reward configuration")
	ErrPersistenceConflict = errors.New("concurrent redemption conflict")
)

const (
	codeLength     = 8
	codeCharset    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	fallbackLocale = "en"
)

type CodeProcessor struct {
	store      CodeStore
	auditor    UsageAuditor
	dispatcher *events.Dispatcher
	logger     *observability.Logger
}

func New(store CodeStore, auditor UsageAuditor, dispatcher *events.Dispatcher, logger *observability.Logger) CodeProcessor {
	return CodeProcessor{
		store:      store,
		auditor:    auditor,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// GenerateUniqueCode produces an 8-character upper-case alphanumeric
// code, resampling until no existing code collides. The loop is
// effectively bounded by the negligible collision probability over a
// 36^8 space; the unique constraint on the table is the final guard.
func (p *CodeProcessor) GenerateUniqueCode(ctx context.Context) (string, error) {
	for {
		code, err := randomCode(codeLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}

		exists, err := p.store.ReferralCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
}

func randomCode(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	for i, b := range bytes {
		bytes[i] = codeCharset[int(b)%len(codeCharset)]
	}
	return string(bytes), nil
}

// CreateCodeRequest represents a request to issue a referral code
type CreateCodeRequest struct {
	OwnerID      uuid.UUID
	Title        store.LocalizedText
	Description  store.LocalizedText
	UsageLimit   *int
	RewardAmount *decimal.Decimal
	RewardType   *string
	ExpiresAt    *time.Time
	CampaignID   *uuid.UUID
	Source       string
	Tags         []string
	Conditions   []conditions.Condition
}

// CreateCode issues a new referral code with a generated code string.
// Conditions and the reward policy are validated at write time so the
// evaluator never sees malformed stored data.
func (p *CodeProcessor) CreateCode(ctx context.Context, req CreateCodeRequest) (store.ReferralCode, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "owner_id", Value: req.OwnerID.String()},
	)

	if err := conditions.Validate(req.Conditions); err != nil {
		return store.ReferralCode{}, err
	}

	if err := validateRewardConfig(req.RewardAmount, req.RewardType); err != nil {
		return store.ReferralCode{}, err
	}

	if req.Source == "" {
		req.Source = store.CodeSourceAdmin
	}

	// The existence check in GenerateUniqueCode races against other
	// issuers, so retry on the insert's unique constraint.
	for {
		code, err := p.GenerateUniqueCode(ctx)
		if err != nil {
			return store.ReferralCode{}, err
		}

		created, err := p.store.CreateReferralCode(ctx, store.CreateReferralCodeParams{
			Code:         code,
			OwnerID:      req.OwnerID,
			Title:        req.Title,
			Description:  req.Description,
			UsageLimit:   req.UsageLimit,
			RewardAmount: req.RewardAmount,
			RewardType:   req.RewardType,
			ExpiresAt:    req.ExpiresAt,
			CampaignID:   req.CampaignID,
			Source:       req.Source,
			Tags:         store.StringArray(req.Tags),
			Conditions:   store.ConditionList(req.Conditions),
		})
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return store.ReferralCode{}, err
		}

		p.logger.Info(observability.WithFields(ctx,
			observability.Field{Key: "referral_code", Value: created.Code}),
			"referral code issued")
		return created, nil
	}
}

func validateRewardConfig(amount *decimal.Decimal, rewardType *string) error {
	if amount == nil && rewardType == nil {
		return nil
	}
	if amount == nil || rewardType == nil {
		return ErrInvalidRewardConfig
	}
	if amount.IsNegative() {
		return ErrInvalidRewardConfig
	}
	if *rewardType != store.RewardTypeFixed && *rewardType != store.RewardTypePercentage {
		return ErrInvalidRewardConfig
	}
	return nil
}

// FindByCode retrieves a referral code by its code string
func (p *CodeProcessor) FindByCode(ctx context.Context, code string) (store.ReferralCode, error) {
	referralCode, err := p.store.GetReferralCodeByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.ReferralCode{}, ErrInvalidCode
		}
		return store.ReferralCode{}, err
	}
	return referralCode, nil
}

// IsValid reports whether a code is currently redeemable: active, not
// expired and under its usage limit. Validity is always computed from
// the row, never cached as a single flag.
func (p *CodeProcessor) IsValid(code store.ReferralCode) bool {
	if !code.Active {
		return false
	}
	if code.ExpiresAt != nil && !code.ExpiresAt.After(time.Now()) {
		return false
	}
	return !p.HasReachedUsageLimit(code)
}

// HasReachedUsageLimit reports whether the usage counter has hit the
// configured limit. Unlimited codes never reach it.
func (p *CodeProcessor) HasReachedUsageLimit(code store.ReferralCode) bool {
	return code.UsageLimit != nil && code.UsageCount >= *code.UsageLimit
}

// RemainingUsage returns how many redemptions are left, or nil for
// unlimited codes
func (p *CodeProcessor) RemainingUsage(code store.ReferralCode) *int {
	if code.UsageLimit == nil {
		return nil
	}
	remaining := *code.UsageLimit - code.UsageCount
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// UsagePercentage returns the share of the usage limit consumed, or
// nil for unlimited codes
func (p *CodeProcessor) UsagePercentage(code store.ReferralCode) *float64 {
	if code.UsageLimit == nil || *code.UsageLimit == 0 {
		return nil
	}
	pct := float64(code.UsageCount) / float64(*code.UsageLimit) * 100
	return &pct
}

// MeetsConditions evaluates the code's stored conditions against a
// caller-supplied context
func (p *CodeProcessor) MeetsConditions(code store.ReferralCode, redemptionContext map[string]interface{}) bool {
	return conditions.Matches(code.Conditions, redemptionContext)
}

// RedeemResponse represents the outcome of a successful redemption
type RedeemResponse struct {
	Code           store.ReferralCode `json:"code"`
	RemainingUsage *int               `json:"remaining_usage,omitempty"`
}

// Redeem validates and redeems a code for an acting user. On success
// the usage counter has been atomically incremented and the redemption
// handed to the auditor; audit failures never surface here.
func (p *CodeProcessor) Redeem(ctx context.Context, code string, actingUserID uuid.UUID, redemptionContext map[string]interface{}) (RedeemResponse, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "referral_code", Value: code},
		observability.Field{Key: "acting_user_id", Value: actingUserID.String()},
	)

	referralCode, err := p.store.GetReferralCodeByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return RedeemResponse{}, ErrInvalidCode
		}
		return RedeemResponse{}, err
	}

	// Each validity rule is reported individually so callers can give a
	// precise user-facing message.
	if !referralCode.Active {
		return RedeemResponse{}, ErrCodeInactive
	}
	if referralCode.ExpiresAt != nil && !referralCode.ExpiresAt.After(time.Now()) {
		return RedeemResponse{}, ErrCodeExpired
	}
	if p.HasReachedUsageLimit(referralCode) {
		return RedeemResponse{}, ErrUsageLimitReached
	}
	if !p.MeetsConditions(referralCode, redemptionContext) {
		return RedeemResponse{}, ErrConditionNotMet
	}

	// The increment re-checks validity under the row lock: if another
	// redemption consumed the last slot between our read and this
	// write, no row matches and the caller should retry.
	updated, err := p.store.IncrementCodeUsage(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return RedeemResponse{}, ErrPersistenceConflict
		}
		return RedeemResponse{}, err
	}

	p.auditor.LogUsage(ctx, updated.Code, actingUserID, store.JSONB(redemptionContext))

	p.dispatcher.Dispatch(ctx, events.EventCodeRedeemed, &updated.Code, map[string]interface{}{
		"acting_user_id": actingUserID.String(),
		"usage_count":    updated.UsageCount,
	})

	p.logger.Info(ctx, "referral code redeemed")

	return RedeemResponse{
		Code:           updated,
		RemainingUsage: p.RemainingUsage(updated),
	}, nil
}

// Deactivate sets a code inactive. Idempotent.
func (p *CodeProcessor) Deactivate(ctx context.Context, code string) error {
	ctx = observability.WithFields(ctx, observability.Field{Key: "referral_code", Value: code})

	err := p.store.DeactivateReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidCode
		}
		return err
	}

	p.logger.Info(ctx, "referral code deactivated")
	return nil
}

// ListCodesRequest represents parameters for listing codes
type ListCodesRequest struct {
	Page  int
	Limit int
}

// ListCodesResponse represents the paginated code listing
type ListCodesResponse struct {
	Codes      []store.ReferralCode `json:"codes"`
	TotalCount int                  `json:"total_count"`
	HasMore    bool                 `json:"has_more"`
}

// ListCodes retrieves issued codes with pagination
func (p *CodeProcessor) ListCodes(ctx context.Context, req ListCodesRequest) (ListCodesResponse, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit < 1 || req.Limit > 100 {
		req.Limit = 20
	}
	offset := (req.Page - 1) * req.Limit

	codes, err := p.store.ListReferralCodes(ctx, req.Limit, offset)
	if err != nil {
		p.logger.Error(ctx, "failed to list codes", err)
		return ListCodesResponse{}, err
	}
	if codes == nil {
		codes = []store.ReferralCode{}
	}

	totalCount, err := p.store.CountReferralCodes(ctx)
	if err != nil {
		p.logger.Error(ctx, "failed to count codes", err)
		return ListCodesResponse{}, err
	}

	return ListCodesResponse{
		Codes:      codes,
		TotalCount: totalCount,
		HasMore:    (req.Page * req.Limit) < totalCount,
	}, nil
}

// CodeOverview is the flattened read model consumed by the admin UI.
// Computed on demand, never persisted.
type CodeOverview struct {
	ID                    uuid.UUID `json:"id"`
	Code                  string    `json:"code"`
	Title                 string    `json:"title"`
	Description           string    `json:"description"`
	RewardAmount          *string   `json:"reward_amount,omitempty"`
	RewardType            *string   `json:"reward_type,omitempty"`
	FormattedRewardAmount string    `json:"formatted_reward_amount"`
	Tags                  []string  `json:"tags"`
	UsagePercentage       *float64  `json:"usage_percentage,omitempty"`
	Stats                 CodeStats `json:"stats"`
}

// CodeStats holds the aggregate counters on the overview
type CodeStats struct {
	TotalReferrals     int    `json:"total_referrals"`
	CompletedReferrals int    `json:"completed_referrals"`
	PendingReferrals   int    `json:"pending_referrals"`
	TotalRewards       int    `json:"total_rewards"`
	TotalRewardAmount  string `json:"total_reward_amount"`
}

// GetCodeOverview builds the display projection for a code, resolving
// localized text for the requested locale.
func (p *CodeProcessor) GetCodeOverview(ctx context.Context, code, locale string) (CodeOverview, error) {
	ctx = observability.WithFields(ctx, observability.Field{Key: "referral_code", Value: code})

	referralCode, err := p.store.GetReferralCodeByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return CodeOverview{}, ErrInvalidCode
		}
		return CodeOverview{}, err
	}

	referralCounts, err := p.store.CountReferralsByCodeAndStatus(ctx, code)
	if err != nil {
		return CodeOverview{}, err
	}

	rewardTotals, err := p.store.SumRewardsByCode(ctx, code)
	if err != nil {
		return CodeOverview{}, err
	}

	overview := CodeOverview{
		ID:              referralCode.ID,
		Code:            referralCode.Code,
		Title:           referralCode.Title.Resolve(locale, fallbackLocale),
		Description:     referralCode.Description.Resolve(locale, fallbackLocale),
		RewardType:      referralCode.RewardType,
		Tags:            referralCode.Tags,
		UsagePercentage: p.UsagePercentage(referralCode),
		Stats: CodeStats{
			TotalReferrals:     referralCounts.Total,
			CompletedReferrals: referralCounts.Completed,
			PendingReferrals:   referralCounts.Pending,
			TotalRewards:       rewardTotals.TotalRewards,
			TotalRewardAmount:  rewardTotals.TotalRewardAmount.StringFixed(2),
		},
	}
	if overview.Tags == nil {
		overview.Tags = []string{}
	}

	if referralCode.RewardAmount != nil {
		amount := referralCode.RewardAmount.String()
		overview.RewardAmount = &amount
		overview.FormattedRewardAmount = formatRewardAmount(*referralCode.RewardAmount, referralCode.RewardType)
	}

	return overview, nil
}

func formatRewardAmount(amount decimal.Decimal, rewardType *string) string {
	if rewardType != nil && *rewardType == store.RewardTypePercentage {
		return fmt.Sprintf("%s%%", amount.String())
	}
	return amount.StringFixed(2)
}
