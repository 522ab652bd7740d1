package processor

import (
	"context"
	"testing"
	"time"

	"referral-engine/internal/observability"
	"referral-engine/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockReferralStore is an in-memory ReferralStore that mirrors the
// guarded transition and unique-referred semantics of the real tables.
type mockReferralStore struct {
	referrals    map[uuid.UUID]store.Referral
	rewardCounts map[uuid.UUID]int
}

func newMockReferralStore() *mockReferralStore {
	return &mockReferralStore{
		referrals:    make(map[uuid.UUID]store.Referral),
		rewardCounts: make(map[uuid.UUID]int),
	}
}

func (m *mockReferralStore) CreateReferral(ctx context.Context, params store.CreateReferralParams) (store.Referral, error) {
	for _, r := range m.referrals {
		if r.ReferredID == params.ReferredID && r.DeletedAt == nil {
			return store.Referral{}, store.ErrConflict
		}
	}
	referral := store.Referral{
		ID:           uuid.New(),
		ReferrerID:   params.ReferrerID,
		ReferredID:   params.ReferredID,
		ReferralCode: params.ReferralCode,
		Status:       store.ReferralStatusPending,
		Title:        params.Title,
		Description:  params.Description,
		Source:       params.Source,
		CampaignTag:  params.CampaignTag,
		ExpiresAt:    params.ExpiresAt,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.referrals[referral.ID] = referral
	return referral, nil
}

func (m *mockReferralStore) GetReferralByID(ctx context.Context, referralID uuid.UUID) (store.Referral, error) {
	r, ok := m.referrals[referralID]
	if !ok || r.DeletedAt != nil {
		return store.Referral{}, store.ErrNotFound
	}
	return r, nil
}

func (m *mockReferralStore) GetReferralByCode(ctx context.Context, code string) (store.Referral, error) {
	for _, r := range m.referrals {
		if r.ReferralCode != nil && *r.ReferralCode == code && r.DeletedAt == nil {
			return r, nil
		}
	}
	return store.Referral{}, store.ErrNotFound
}

func (m *mockReferralStore) GetActiveReferralByReferred(ctx context.Context, referredID uuid.UUID) (store.Referral, error) {
	for _, r := range m.referrals {
		if r.ReferredID == referredID && r.DeletedAt == nil {
			return r, nil
		}
	}
	return store.Referral{}, store.ErrNotFound
}

func (m *mockReferralStore) CountActiveReferralsByReferrer(ctx context.Context, referrerID uuid.UUID) (int, error) {
	count := 0
	for _, r := range m.referrals {
		if r.ReferrerID == referrerID && r.Status == store.ReferralStatusPending && r.DeletedAt == nil {
			count++
		}
	}
	return count, nil
}

func (m *mockReferralStore) GetReferralsByReferrer(ctx context.Context, referrerID uuid.UUID, limit, offset int) ([]store.Referral, error) {
	var out []store.Referral
	for _, r := range m.referrals {
		if r.ReferrerID == referrerID && r.DeletedAt == nil {
			out = append(out, r)
		}
	}
	if offset >= len(out) {
		return []store.Referral{}, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (m *mockReferralStore) MarkReferralCompleted(ctx context.Context, referralID uuid.UUID) (store.Referral, error) {
	return m.transition(referralID, store.ReferralStatusCompleted)
}

func (m *mockReferralStore) MarkReferralExpired(ctx context.Context, referralID uuid.UUID) (store.Referral, error) {
	return m.transition(referralID, store.ReferralStatusExpired)
}

// transition applies the same pending-only guard as the SQL update.
func (m *mockReferralStore) transition(referralID uuid.UUID, status string) (store.Referral, error) {
	r, ok := m.referrals[referralID]
	if !ok || r.DeletedAt != nil || r.Status != store.ReferralStatusPending {
		return store.Referral{}, store.ErrNotFound
	}
	r.Status = status
	if status == store.ReferralStatusCompleted {
		now := time.Now()
		r.CompletedAt = &now
	}
	m.referrals[referralID] = r
	return r, nil
}

func (m *mockReferralStore) SoftDeleteReferral(ctx context.Context, referralID uuid.UUID) error {
	r, ok := m.referrals[referralID]
	if !ok || r.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now()
	r.DeletedAt = &now
	m.referrals[referralID] = r
	return nil
}

func (m *mockReferralStore) CountRewardsByReferral(ctx context.Context, referralID uuid.UUID) (int, error) {
	return m.rewardCounts[referralID], nil
}

// mockCodeRegistry serves a fixed set of valid codes
type mockCodeRegistry struct {
	valid map[string]bool
}

func (m *mockCodeRegistry) FindByCode(ctx context.Context, code string) (store.ReferralCode, error) {
	if _, ok := m.valid[code]; !ok {
		return store.ReferralCode{}, store.ErrNotFound
	}
	return store.ReferralCode{Code: code, Active: m.valid[code]}, nil
}

func (m *mockCodeRegistry) IsValid(code store.ReferralCode) bool {
	return code.Active
}

func newTestReferralProcessor(s *mockReferralStore) ReferralProcessor {
	registry := &mockCodeRegistry{valid: map[string]bool{"GOODCODE": true, "DEADCODE": false}}
	return New(s, registry, nil, observability.NewLogger())
}

func TestCreateReferral(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)

	code := "GOODCODE"
	referral, err := p.Create(context.Background(), CreateReferralRequest{
		ReferrerID: uuid.New(),
		ReferredID: uuid.New(),
		Code:       &code,
	})
	require.NoError(t, err)
	assert.Equal(t, store.ReferralStatusPending, referral.Status)
	require.NotNil(t, referral.ReferralCode)
	assert.Equal(t, "GOODCODE", *referral.ReferralCode)
}

func TestCreateReferralIgnoresInvalidCode(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)

	for _, code := range []string{"DEADCODE", "NOSUCHCD"} {
		referral, err := p.Create(context.Background(), CreateReferralRequest{
			ReferrerID: uuid.New(),
			ReferredID: uuid.New(),
			Code:       &code,
		})
		require.NoError(t, err)
		assert.Nil(t, referral.ReferralCode, "invalid code %s must leave the referral unbound", code)
	}
}

func TestCreateReferralRejectsSelfReferral(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)

	userID := uuid.New()
	_, err := p.Create(context.Background(), CreateReferralRequest{
		ReferrerID: userID,
		ReferredID: userID,
	})
	assert.ErrorIs(t, err, ErrSelfReferral)
}

func TestCreateReferralRejectsAlreadyReferred(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)
	ctx := context.Background()

	referredID := uuid.New()
	_, err := p.Create(ctx, CreateReferralRequest{ReferrerID: uuid.New(), ReferredID: referredID})
	require.NoError(t, err)

	_, err = p.Create(ctx, CreateReferralRequest{ReferrerID: uuid.New(), ReferredID: referredID})
	assert.ErrorIs(t, err, ErrAlreadyReferred)
}

func TestCreateReferralEnforcesActiveLimit(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)
	ctx := context.Background()

	referrerID := uuid.New()
	for i := 0; i < maxActiveReferrals; i++ {
		_, err := p.Create(ctx, CreateReferralRequest{ReferrerID: referrerID, ReferredID: uuid.New()})
		require.NoError(t, err)
	}

	_, err := p.Create(ctx, CreateReferralRequest{ReferrerID: referrerID, ReferredID: uuid.New()})
	assert.ErrorIs(t, err, ErrReferralLimitExceeded)
}

func TestCreateFromRedemption(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)
	ctx := context.Background()

	limit := 1
	expires := time.Now().Add(24 * time.Hour)
	code := store.ReferralCode{
		Code:       "REDEEMED",
		OwnerID:    uuid.New(),
		Title:      store.LocalizedText{"en": "Friend offer"},
		UsageLimit: &limit,
		UsageCount: 1,
		ExpiresAt:  &expires,
	}

	actingUserID := uuid.New()
	referral, err := p.CreateFromRedemption(ctx, code, actingUserID)
	require.NoError(t, err)
	assert.Equal(t, store.ReferralStatusPending, referral.Status)
	assert.Equal(t, code.OwnerID, referral.ReferrerID)
	assert.Equal(t, actingUserID, referral.ReferredID)
	require.NotNil(t, referral.ReferralCode)
	// The code bound even though the redemption consumed its last slot;
	// the redemption itself already validated it.
	assert.Equal(t, "REDEEMED", *referral.ReferralCode)
	require.NotNil(t, referral.Source)
	assert.Equal(t, "redemption", *referral.Source)
	require.NotNil(t, referral.ExpiresAt)
	assert.True(t, referral.ExpiresAt.Equal(expires))
}

func TestCreateFromRedemptionRejectsOwner(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)

	ownerID := uuid.New()
	code := store.ReferralCode{Code: "SELFCODE", OwnerID: ownerID}

	_, err := p.CreateFromRedemption(context.Background(), code, ownerID)
	assert.ErrorIs(t, err, ErrSelfReferral)
}

func TestCreateFromRedemptionRejectsAlreadyReferred(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)
	ctx := context.Background()

	actingUserID := uuid.New()
	_, err := p.Create(ctx, CreateReferralRequest{ReferrerID: uuid.New(), ReferredID: actingUserID})
	require.NoError(t, err)

	code := store.ReferralCode{Code: "SOMECODE", OwnerID: uuid.New()}
	_, err = p.CreateFromRedemption(ctx, code, actingUserID)
	assert.ErrorIs(t, err, ErrAlreadyReferred)
}

func TestMarkCompleted(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)
	ctx := context.Background()

	referral, err := p.Create(ctx, CreateReferralRequest{ReferrerID: uuid.New(), ReferredID: uuid.New()})
	require.NoError(t, err)

	completed, err := p.MarkCompleted(ctx, referral.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ReferralStatusCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
}

func TestTerminalTransitionsRejected(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)
	ctx := context.Background()

	referral, err := p.Create(ctx, CreateReferralRequest{ReferrerID: uuid.New(), ReferredID: uuid.New()})
	require.NoError(t, err)

	_, err = p.MarkCompleted(ctx, referral.ID)
	require.NoError(t, err)

	// Completed is terminal in both directions.
	_, err = p.MarkCompleted(ctx, referral.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = p.MarkExpired(ctx, referral.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// An unknown ID is NotFound, not a transition failure.
	_, err = p.MarkCompleted(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrReferralNotFound)
}

func TestMarkConversion(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)
	ctx := context.Background()

	referredID := uuid.New()
	_, err := p.Create(ctx, CreateReferralRequest{ReferrerID: uuid.New(), ReferredID: referredID})
	require.NoError(t, err)

	completed, err := p.MarkConversion(ctx, referredID)
	require.NoError(t, err)
	assert.Equal(t, store.ReferralStatusCompleted, completed.Status)

	// A retried conversion for the same identity returns the completed
	// referral instead of dying on the transition guard, so callers can
	// reach reward issuance again.
	again, err := p.MarkConversion(ctx, referredID)
	require.NoError(t, err)
	assert.Equal(t, completed.ID, again.ID)
	assert.Equal(t, store.ReferralStatusCompleted, again.Status)
}

func TestMarkConversionRejectsExpiredReferral(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)
	ctx := context.Background()

	referredID := uuid.New()
	referral, err := p.Create(ctx, CreateReferralRequest{ReferrerID: uuid.New(), ReferredID: referredID})
	require.NoError(t, err)

	_, err = p.MarkExpired(ctx, referral.ID)
	require.NoError(t, err)

	_, err = p.MarkConversion(ctx, referredID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestIsAboutToExpire(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)

	in3Days := time.Now().AddDate(0, 0, 3)
	in30Days := time.Now().AddDate(0, 0, 30)
	past := time.Now().Add(-time.Hour)

	pendingSoon := store.Referral{Status: store.ReferralStatusPending, ExpiresAt: &in3Days}
	pendingLater := store.Referral{Status: store.ReferralStatusPending, ExpiresAt: &in30Days}
	pendingNoDeadline := store.Referral{Status: store.ReferralStatusPending}
	alreadyPast := store.Referral{Status: store.ReferralStatusPending, ExpiresAt: &past}
	completed := store.Referral{Status: store.ReferralStatusCompleted, ExpiresAt: &in3Days}

	assert.True(t, p.IsAboutToExpire(pendingSoon, 0), "default window is 7 days")
	assert.False(t, p.IsAboutToExpire(pendingLater, 0))
	assert.True(t, p.IsAboutToExpire(pendingLater, 45))
	assert.False(t, p.IsAboutToExpire(pendingNoDeadline, 0))
	assert.False(t, p.IsAboutToExpire(alreadyPast, 0), "already past is expired, not about to expire")
	assert.False(t, p.IsAboutToExpire(completed, 0))
}

func TestPerformanceScore(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)
	ctx := context.Background()

	pending := store.Referral{ID: uuid.New(), Status: store.ReferralStatusPending}
	completed := store.Referral{ID: uuid.New(), Status: store.ReferralStatusCompleted}
	rewarded := store.Referral{ID: uuid.New(), Status: store.ReferralStatusCompleted}
	s.rewardCounts[rewarded.ID] = 1

	score, err := p.PerformanceScore(ctx, pending, false)
	require.NoError(t, err)
	assert.Equal(t, 0, score)

	score, err = p.PerformanceScore(ctx, completed, false)
	require.NoError(t, err)
	assert.Equal(t, 50, score)

	score, err = p.PerformanceScore(ctx, rewarded, false)
	require.NoError(t, err)
	assert.Equal(t, 70, score)

	score, err = p.PerformanceScore(ctx, rewarded, true)
	require.NoError(t, err)
	assert.Equal(t, 75, score)
}

func TestConversionRate(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)

	assert.Equal(t, 100.0, p.ConversionRate(true))
	assert.Equal(t, 0.0, p.ConversionRate(false))
}

func TestDeleteReferral(t *testing.T) {
	s := newMockReferralStore()
	p := newTestReferralProcessor(s)
	ctx := context.Background()

	referral, err := p.Create(ctx, CreateReferralRequest{ReferrerID: uuid.New(), ReferredID: uuid.New()})
	require.NoError(t, err)

	require.NoError(t, p.Delete(ctx, referral.ID))
	_, err = p.Get(ctx, referral.ID)
	assert.ErrorIs(t, err, ErrReferralNotFound)

	assert.ErrorIs(t, p.Delete(ctx, referral.ID), ErrReferralNotFound)
}
