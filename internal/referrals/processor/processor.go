package processor

import (
	"context"
	"errors"
	"time"

	"referral-engine/internal/events"
	"referral-engine/internal/observability"
	"referral-engine/internal/store"

	"github.com/google/uuid"
)

var (
	ErrReferralNotFound      = errors.New("referral not found")
	ErrSelfReferral          = errors.New("a user cannot refer themselves")
	ErrAlreadyReferred       = errors.New("user has already been referred")
	ErrReferralLimitExceeded = errors.New("referrer has too many active referrals")
	ErrInvalidTransition     = errors.New("referral is already in a terminal state")
	ErrPersistenceConflict   = errors.New("concurrent referral conflict")
)

// maxActiveReferrals bounds fan-out abuse of a single account.
const maxActiveReferrals = 100

const defaultExpiryWarningDays = 7

// sourceRedemption marks referrals materialized by the redeem flow
const sourceRedemption = "redemption"

type ReferralProcessor struct {
	store      ReferralStore
	codes      CodeRegistry
	dispatcher *events.Dispatcher
	logger     *observability.Logger
}

func New(store ReferralStore, codes CodeRegistry, dispatcher *events.Dispatcher, logger *observability.Logger) ReferralProcessor {
	return ReferralProcessor{
		store:      store,
		codes:      codes,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// CreateReferralRequest represents a request to create a referral
type CreateReferralRequest struct {
	ReferrerID  uuid.UUID
	ReferredID  uuid.UUID
	Code        *string
	Title       store.LocalizedText
	Description store.LocalizedText
	Source      *string
	CampaignTag *string
	ExpiresAt   *time.Time
}

// Create records a new pending referral. A supplied code is attached
// only when it is currently valid; an unknown or invalid code leaves
// the referral unbound rather than failing the creation.
func (p *ReferralProcessor) Create(ctx context.Context, req CreateReferralRequest) (store.Referral, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "referrer_id", Value: req.ReferrerID.String()},
		observability.Field{Key: "referred_id", Value: req.ReferredID.String()},
	)

	if req.ReferrerID == req.ReferredID {
		return store.Referral{}, ErrSelfReferral
	}

	_, err := p.store.GetActiveReferralByReferred(ctx, req.ReferredID)
	if err == nil {
		return store.Referral{}, ErrAlreadyReferred
	}
	if !errors.Is(err, store.ErrNotFound) {
		p.logger.Error(ctx, "failed to check existing referral", err)
		return store.Referral{}, err
	}

	activeCount, err := p.store.CountActiveReferralsByReferrer(ctx, req.ReferrerID)
	if err != nil {
		p.logger.Error(ctx, "failed to count active referrals", err)
		return store.Referral{}, err
	}
	if activeCount >= maxActiveReferrals {
		return store.Referral{}, ErrReferralLimitExceeded
	}

	var referralCode *string
	if req.Code != nil && *req.Code != "" {
		code, err := p.codes.FindByCode(ctx, *req.Code)
		if err == nil && p.codes.IsValid(code) {
			referralCode = &code.Code
		}
	}

	referral, err := p.store.CreateReferral(ctx, store.CreateReferralParams{
		ReferrerID:   req.ReferrerID,
		ReferredID:   req.ReferredID,
		ReferralCode: referralCode,
		Title:        req.Title,
		Description:  req.Description,
		Source:       req.Source,
		CampaignTag:  req.CampaignTag,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		// The unique index on referred_id catches the race where two
		// requests both passed the existence check above.
		if errors.Is(err, store.ErrConflict) {
			return store.Referral{}, ErrPersistenceConflict
		}
		return store.Referral{}, err
	}

	p.dispatcher.Dispatch(ctx, events.EventReferralCreated, referral.ReferralCode, map[string]interface{}{
		"referral_id": referral.ID.String(),
		"referrer_id": referral.ReferrerID.String(),
		"referred_id": referral.ReferredID.String(),
	})

	p.logger.Info(ctx, "referral created")
	return referral, nil
}

// CreateFromRedemption records the code-owner to redeemer pairing
// produced by a successful redemption. The redemption already
// validated the code under the row lock, so it binds unconditionally
// instead of being re-checked here.
func (p *ReferralProcessor) CreateFromRedemption(ctx context.Context, code store.ReferralCode, actingUserID uuid.UUID) (store.Referral, error) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "referral_code", Value: code.Code},
		observability.Field{Key: "referred_id", Value: actingUserID.String()},
	)

	if code.OwnerID == actingUserID {
		return store.Referral{}, ErrSelfReferral
	}

	_, err := p.store.GetActiveReferralByReferred(ctx, actingUserID)
	if err == nil {
		return store.Referral{}, ErrAlreadyReferred
	}
	if !errors.Is(err, store.ErrNotFound) {
		p.logger.Error(ctx, "failed to check existing referral", err)
		return store.Referral{}, err
	}

	activeCount, err := p.store.CountActiveReferralsByReferrer(ctx, code.OwnerID)
	if err != nil {
		p.logger.Error(ctx, "failed to count active referrals", err)
		return store.Referral{}, err
	}
	if activeCount >= maxActiveReferrals {
		return store.Referral{}, ErrReferralLimitExceeded
	}

	source := sourceRedemption
	referral, err := p.store.CreateReferral(ctx, store.CreateReferralParams{
		ReferrerID:   code.OwnerID,
		ReferredID:   actingUserID,
		ReferralCode: &code.Code,
		Title:        code.Title,
		Description:  code.Description,
		Source:       &source,
		ExpiresAt:    code.ExpiresAt,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Referral{}, ErrPersistenceConflict
		}
		return store.Referral{}, err
	}

	p.dispatcher.Dispatch(ctx, events.EventReferralCreated, referral.ReferralCode, map[string]interface{}{
		"referral_id": referral.ID.String(),
		"referrer_id": referral.ReferrerID.String(),
		"referred_id": referral.ReferredID.String(),
		"source":      sourceRedemption,
	})

	p.logger.Info(ctx, "referral created from redemption")
	return referral, nil
}

// Get retrieves a referral by ID
func (p *ReferralProcessor) Get(ctx context.Context, referralID uuid.UUID) (store.Referral, error) {
	referral, err := p.store.GetReferralByID(ctx, referralID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Referral{}, ErrReferralNotFound
		}
		return store.Referral{}, err
	}
	return referral, nil
}

// FindByCode retrieves the most recent referral bound to a code
func (p *ReferralProcessor) FindByCode(ctx context.Context, code string) (store.Referral, error) {
	referral, err := p.store.GetReferralByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Referral{}, ErrReferralNotFound
		}
		return store.Referral{}, err
	}
	return referral, nil
}

// IsValid reports whether a referral is still pending and unexpired
func (p *ReferralProcessor) IsValid(referral store.Referral) bool {
	if referral.Status != store.ReferralStatusPending {
		return false
	}
	if referral.ExpiresAt != nil && !referral.ExpiresAt.After(time.Now()) {
		return false
	}
	return true
}

// IsAboutToExpire reports whether a pending referral expires within
// withinDays of now. Zero or negative withinDays uses the default of 7.
func (p *ReferralProcessor) IsAboutToExpire(referral store.Referral, withinDays int) bool {
	if withinDays <= 0 {
		withinDays = defaultExpiryWarningDays
	}
	if referral.Status != store.ReferralStatusPending || referral.ExpiresAt == nil {
		return false
	}
	now := time.Now()
	cutoff := now.AddDate(0, 0, withinDays)
	return referral.ExpiresAt.After(now) && !referral.ExpiresAt.After(cutoff)
}

// MarkCompleted transitions a pending referral to completed. Terminal
// referrals fail with ErrInvalidTransition, never revert.
func (p *ReferralProcessor) MarkCompleted(ctx context.Context, referralID uuid.UUID) (store.Referral, error) {
	ctx = observability.WithFields(ctx, observability.Field{Key: "referral_id", Value: referralID.String()})

	referral, err := p.store.MarkReferralCompleted(ctx, referralID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Referral{}, p.transitionFailure(ctx, referralID)
		}
		return store.Referral{}, err
	}

	p.dispatcher.Dispatch(ctx, events.EventReferralCompleted, referral.ReferralCode, map[string]interface{}{
		"referral_id": referral.ID.String(),
		"referred_id": referral.ReferredID.String(),
	})

	p.logger.Info(ctx, "referral completed")
	return referral, nil
}

// MarkExpired transitions a pending referral to expired under the same
// terminal-state rules as MarkCompleted.
func (p *ReferralProcessor) MarkExpired(ctx context.Context, referralID uuid.UUID) (store.Referral, error) {
	ctx = observability.WithFields(ctx, observability.Field{Key: "referral_id", Value: referralID.String()})

	referral, err := p.store.MarkReferralExpired(ctx, referralID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Referral{}, p.transitionFailure(ctx, referralID)
		}
		return store.Referral{}, err
	}

	p.dispatcher.Dispatch(ctx, events.EventReferralExpired, referral.ReferralCode, map[string]interface{}{
		"referral_id": referral.ID.String(),
	})

	p.logger.Info(ctx, "referral expired")
	return referral, nil
}

// transitionFailure disambiguates a guarded update that matched no
// row: the referral either does not exist or is already terminal.
func (p *ReferralProcessor) transitionFailure(ctx context.Context, referralID uuid.UUID) error {
	_, err := p.store.GetReferralByID(ctx, referralID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrReferralNotFound
		}
		return err
	}
	return ErrInvalidTransition
}

// MarkConversion completes the referral for a referred identity when
// the order subsystem signals a qualifying order. Returns the
// completed referral so the caller can materialize rewards. A referral
// that is already completed is returned as-is, so a retried conversion
// reaches reward issuance instead of dying on the transition guard.
func (p *ReferralProcessor) MarkConversion(ctx context.Context, referredID uuid.UUID) (store.Referral, error) {
	ctx = observability.WithFields(ctx, observability.Field{Key: "referred_id", Value: referredID.String()})

	referral, err := p.store.GetActiveReferralByReferred(ctx, referredID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Referral{}, ErrReferralNotFound
		}
		return store.Referral{}, err
	}

	if referral.Status == store.ReferralStatusCompleted {
		return referral, nil
	}

	return p.MarkCompleted(ctx, referral.ID)
}

// Delete tombstones a referral
func (p *ReferralProcessor) Delete(ctx context.Context, referralID uuid.UUID) error {
	err := p.store.SoftDeleteReferral(ctx, referralID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrReferralNotFound
		}
		return err
	}
	return nil
}

// PerformanceScore computes the 0-100 health indicator for a single
// referral: +50 when completed, +20 with at least one reward, +5 when
// the referred identity has placed an order. Order existence arrives
// as a fact from the order subsystem, never queried here.
func (p *ReferralProcessor) PerformanceScore(ctx context.Context, referral store.Referral, referredHasOrdered bool) (int, error) {
	score := 0
	if referral.Status == store.ReferralStatusCompleted {
		score += 50
	}

	rewardCount, err := p.store.CountRewardsByReferral(ctx, referral.ID)
	if err != nil {
		p.logger.Error(ctx, "failed to count rewards for score", err)
		return 0, err
	}
	if rewardCount > 0 {
		score += 20
	}

	if referredHasOrdered {
		score += 5
	}

	return score, nil
}

// ConversionRate is the binary per-referral rate: 100 when the
// referred identity has ordered at least once, else 0. Aggregate rates
// are a consumer-side average.
func (p *ReferralProcessor) ConversionRate(referredHasOrdered bool) float64 {
	if referredHasOrdered {
		return 100.0
	}
	return 0.0
}

// ListByReferrer retrieves a referrer's referrals with pagination
func (p *ReferralProcessor) ListByReferrer(ctx context.Context, referrerID uuid.UUID, page, limit int) ([]store.Referral, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	referrals, err := p.store.GetReferralsByReferrer(ctx, referrerID, limit, offset)
	if err != nil {
		p.logger.Error(ctx, "failed to list referrals by referrer", err)
		return nil, err
	}
	if referrals == nil {
		referrals = []store.Referral{}
	}
	return referrals, nil
}
