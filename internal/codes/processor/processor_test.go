package processor

import (
	"context"
	"testing"
	"time"

	"referral-engine/internal/conditions"
	"referral-engine/internal/observability"
	"referral-engine/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCodeStore is an in-memory CodeStore that mirrors the database
// guard semantics, including the conditional usage increment.
type mockCodeStore struct {
	codes map[string]store.ReferralCode

	referralCounts store.ReferralStatusCounts
	rewardTotals   store.RewardTotals

	createErr error
	conflicts int // number of CreateReferralCode calls to fail with ErrConflict
}

func newMockCodeStore() *mockCodeStore {
	return &mockCodeStore{codes: make(map[string]store.ReferralCode)}
}

func (m *mockCodeStore) CreateReferralCode(ctx context.Context, params store.CreateReferralCodeParams) (store.ReferralCode, error) {
	if m.createErr != nil {
		return store.ReferralCode{}, m.createErr
	}
	if m.conflicts > 0 {
		m.conflicts--
		return store.ReferralCode{}, store.ErrConflict
	}
	if _, ok := m.codes[params.Code]; ok {
		return store.ReferralCode{}, store.ErrConflict
	}
	code := store.ReferralCode{
		ID:           uuid.New(),
		Code:         params.Code,
		OwnerID:      params.OwnerID,
		Active:       true,
		Title:        params.Title,
		Description:  params.Description,
		UsageLimit:   params.UsageLimit,
		RewardAmount: params.RewardAmount,
		RewardType:   params.RewardType,
		ExpiresAt:    params.ExpiresAt,
		CampaignID:   params.CampaignID,
		Source:       params.Source,
		Tags:         params.Tags,
		Conditions:   params.Conditions,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	m.codes[params.Code] = code
	return code, nil
}

func (m *mockCodeStore) GetReferralCodeByCode(ctx context.Context, code string) (store.ReferralCode, error) {
	c, ok := m.codes[code]
	if !ok {
		return store.ReferralCode{}, store.ErrNotFound
	}
	return c, nil
}

func (m *mockCodeStore) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	_, ok := m.codes[code]
	return ok, nil
}

func (m *mockCodeStore) ListReferralCodes(ctx context.Context, limit, offset int) ([]store.ReferralCode, error) {
	all := make([]store.ReferralCode, 0, len(m.codes))
	for _, c := range m.codes {
		all = append(all, c)
	}
	if offset >= len(all) {
		return []store.ReferralCode{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *mockCodeStore) CountReferralCodes(ctx context.Context) (int, error) {
	return len(m.codes), nil
}

func (m *mockCodeStore) IncrementCodeUsage(ctx context.Context, code string) (store.ReferralCode, error) {
	c, ok := m.codes[code]
	if !ok {
		return store.ReferralCode{}, store.ErrConflict
	}
	// Same validity predicate the SQL guard applies.
	if !c.Active {
		return store.ReferralCode{}, store.ErrConflict
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(time.Now()) {
		return store.ReferralCode{}, store.ErrConflict
	}
	if c.UsageLimit != nil && c.UsageCount >= *c.UsageLimit {
		return store.ReferralCode{}, store.ErrConflict
	}
	c.UsageCount++
	m.codes[code] = c
	return c, nil
}

func (m *mockCodeStore) DeactivateReferralCode(ctx context.Context, code string) error {
	c, ok := m.codes[code]
	if !ok {
		return store.ErrNotFound
	}
	c.Active = false
	m.codes[code] = c
	return nil
}

func (m *mockCodeStore) CountReferralsByCodeAndStatus(ctx context.Context, code string) (store.ReferralStatusCounts, error) {
	return m.referralCounts, nil
}

func (m *mockCodeStore) SumRewardsByCode(ctx context.Context, code string) (store.RewardTotals, error) {
	return m.rewardTotals, nil
}

// mockAuditor records LogUsage invocations
type mockAuditor struct {
	calls []string
}

func (m *mockAuditor) LogUsage(ctx context.Context, code string, actingUserID uuid.UUID, redemptionContext store.JSONB) {
	m.calls = append(m.calls, code)
}

func newTestProcessor(s *mockCodeStore) (CodeProcessor, *mockAuditor) {
	auditor := &mockAuditor{}
	return New(s, auditor, nil, observability.NewLogger()), auditor
}

func seedCode(s *mockCodeStore, code string, mutate func(*store.ReferralCode)) store.ReferralCode {
	c := store.ReferralCode{
		ID:      uuid.New(),
		Code:    code,
		OwnerID: uuid.New(),
		Active:  true,
		Source:  store.CodeSourceAdmin,
	}
	if mutate != nil {
		mutate(&c)
	}
	s.codes[code] = c
	return c
}

func TestGenerateUniqueCodeFormat(t *testing.T) {
	s := newMockCodeStore()
	p, _ := newTestProcessor(s)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := p.GenerateUniqueCode(ctx)
		require.NoError(t, err)
		assert.Len(t, code, 8)
		for _, r := range code {
			assert.True(t, (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
				"unexpected character %q in code %s", r, code)
		}
		assert.False(t, seen[code], "duplicate code generated: %s", code)
		seen[code] = true
		// Register it so collision avoidance is actually exercised.
		seedCode(s, code, nil)
	}
}

func TestCreateCode(t *testing.T) {
	s := newMockCodeStore()
	p, _ := newTestProcessor(s)
	ctx := context.Background()

	limit := 10
	amount := decimal.NewFromFloat(5.00)
	rewardType := store.RewardTypeFixed

	created, err := p.CreateCode(ctx, CreateCodeRequest{
		OwnerID:      uuid.New(),
		Title:        store.LocalizedText{"en": "Launch promo"},
		UsageLimit:   &limit,
		RewardAmount: &amount,
		RewardType:   &rewardType,
	})
	require.NoError(t, err)
	assert.Len(t, created.Code, 8)
	assert.True(t, created.Active)
	assert.Equal(t, store.CodeSourceAdmin, created.Source)
	assert.Equal(t, 0, created.UsageCount)
}

func TestCreateCodeRetriesOnConflict(t *testing.T) {
	s := newMockCodeStore()
	s.conflicts = 2
	p, _ := newTestProcessor(s)

	created, err := p.CreateCode(context.Background(), CreateCodeRequest{OwnerID: uuid.New()})
	require.NoError(t, err)
	assert.NotEmpty(t, created.Code)
}

func TestCreateCodeRejectsInvalidRewardConfig(t *testing.T) {
	s := newMockCodeStore()
	p, _ := newTestProcessor(s)
	ctx := context.Background()

	amount := decimal.NewFromInt(5)
	badType := "points"
	negative := decimal.NewFromInt(-1)
	fixed := store.RewardTypeFixed

	cases := []struct {
		name string
		req  CreateCodeRequest
	}{
		{"amount without type", CreateCodeRequest{OwnerID: uuid.New(), RewardAmount: &amount}},
		{"type without amount", CreateCodeRequest{OwnerID: uuid.New(), RewardType: &fixed}},
		{"unknown type", CreateCodeRequest{OwnerID: uuid.New(), RewardAmount: &amount, RewardType: &badType}},
		{"negative amount", CreateCodeRequest{OwnerID: uuid.New(), RewardAmount: &negative, RewardType: &fixed}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.CreateCode(ctx, tc.req)
			assert.ErrorIs(t, err, ErrInvalidRewardConfig)
		})
	}
}

func TestCreateCodeRejectsInvalidConditions(t *testing.T) {
	s := newMockCodeStore()
	p, _ := newTestProcessor(s)

	_, err := p.CreateCode(context.Background(), CreateCodeRequest{
		OwnerID: uuid.New(),
		Conditions: []conditions.Condition{
			{Field: "total", Operator: "~=", Value: 10},
		},
	})
	assert.ErrorIs(t, err, conditions.ErrInvalidCondition)
}

func TestRedeem(t *testing.T) {
	s := newMockCodeStore()
	p, auditor := newTestProcessor(s)
	ctx := context.Background()

	limit := 3
	seedCode(s, "WELCOME1", func(c *store.ReferralCode) { c.UsageLimit = &limit })

	resp, err := p.Redeem(ctx, "WELCOME1", uuid.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Code.UsageCount)
	require.NotNil(t, resp.RemainingUsage)
	assert.Equal(t, 2, *resp.RemainingUsage)
	assert.Equal(t, []string{"WELCOME1"}, auditor.calls)
}

func TestRedeemErrors(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	limit := 5

	cases := []struct {
		name    string
		code    string
		seed    func(s *mockCodeStore)
		context map[string]interface{}
		wantErr error
	}{
		{
			name:    "unknown code",
			code:    "NOPE1234",
			seed:    func(s *mockCodeStore) {},
			wantErr: ErrInvalidCode,
		},
		{
			name: "inactive code",
			code: "OLDCODE1",
			seed: func(s *mockCodeStore) {
				seedCode(s, "OLDCODE1", func(c *store.ReferralCode) { c.Active = false })
			},
			wantErr: ErrCodeInactive,
		},
		{
			name: "expired code",
			code: "EXPIRED1",
			seed: func(s *mockCodeStore) {
				seedCode(s, "EXPIRED1", func(c *store.ReferralCode) { c.ExpiresAt = &past })
			},
			wantErr: ErrCodeExpired,
		},
		{
			name: "usage limit reached",
			code: "USEDUP11",
			seed: func(s *mockCodeStore) {
				seedCode(s, "USEDUP11", func(c *store.ReferralCode) {
					c.UsageLimit = &limit
					c.UsageCount = 5
				})
			},
			wantErr: ErrUsageLimitReached,
		},
		{
			name: "conditions not met",
			code: "BIGSPEND",
			seed: func(s *mockCodeStore) {
				seedCode(s, "BIGSPEND", func(c *store.ReferralCode) {
					c.Conditions = store.ConditionList{
						{Field: "purchase_total", Operator: conditions.OpGreaterOrEqual, Value: 50},
					}
				})
			},
			context: map[string]interface{}{"purchase_total": 10},
			wantErr: ErrConditionNotMet,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newMockCodeStore()
			tc.seed(s)
			p, auditor := newTestProcessor(s)

			_, err := p.Redeem(context.Background(), tc.code, uuid.New(), tc.context)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, auditor.calls, "failed redemption must not be audited")
		})
	}
}

func TestRedeemMeetsConditions(t *testing.T) {
	s := newMockCodeStore()
	p, _ := newTestProcessor(s)

	seedCode(s, "BIGSPEND", func(c *store.ReferralCode) {
		c.Conditions = store.ConditionList{
			{Field: "purchase_total", Operator: conditions.OpGreaterOrEqual, Value: 50},
		}
	})

	_, err := p.Redeem(context.Background(), "BIGSPEND", uuid.New(),
		map[string]interface{}{"purchase_total": 100})
	require.NoError(t, err)
}

func TestRedeemUsageCountMonotonic(t *testing.T) {
	s := newMockCodeStore()
	p, _ := newTestProcessor(s)
	ctx := context.Background()

	limit := 100
	seedCode(s, "BULKCODE", func(c *store.ReferralCode) { c.UsageLimit = &limit })

	for i := 1; i <= 99; i++ {
		resp, err := p.Redeem(ctx, "BULKCODE", uuid.New(), nil)
		require.NoError(t, err)
		assert.Equal(t, i, resp.Code.UsageCount)
	}

	// The 100th redemption consumes the last slot.
	resp, err := p.Redeem(ctx, "BULKCODE", uuid.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, 100, resp.Code.UsageCount)
	require.NotNil(t, resp.RemainingUsage)
	assert.Equal(t, 0, *resp.RemainingUsage)

	// The 101st is rejected.
	_, err = p.Redeem(ctx, "BULKCODE", uuid.New(), nil)
	assert.ErrorIs(t, err, ErrUsageLimitReached)
}

func TestRedeemSingleUseCode(t *testing.T) {
	s := newMockCodeStore()
	p, _ := newTestProcessor(s)
	ctx := context.Background()

	limit := 1
	seedCode(s, "PROMO10X", func(c *store.ReferralCode) { c.UsageLimit = &limit })

	resp, err := p.Redeem(ctx, "PROMO10X", uuid.New(), nil)
	require.NoError(t, err)
	require.NotNil(t, resp.RemainingUsage)
	assert.Equal(t, 0, *resp.RemainingUsage)

	_, err = p.Redeem(ctx, "PROMO10X", uuid.New(), nil)
	assert.ErrorIs(t, err, ErrUsageLimitReached)
}

func TestIsValid(t *testing.T) {
	s := newMockCodeStore()
	p, _ := newTestProcessor(s)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	limit := 2

	active := seedCode(s, "ACTIVE11", func(c *store.ReferralCode) { c.ExpiresAt = &future })
	inactive := seedCode(s, "PAUSED11", func(c *store.ReferralCode) { c.Active = false })
	expired := seedCode(s, "GONEBY11", func(c *store.ReferralCode) { c.ExpiresAt = &past })
	exhausted := seedCode(s, "ALLUSED1", func(c *store.ReferralCode) {
		c.UsageLimit = &limit
		c.UsageCount = 2
	})

	assert.True(t, p.IsValid(active))
	assert.False(t, p.IsValid(inactive))
	assert.False(t, p.IsValid(expired))
	assert.False(t, p.IsValid(exhausted))
}

func TestDeactivate(t *testing.T) {
	s := newMockCodeStore()
	p, _ := newTestProcessor(s)
	ctx := context.Background()

	seedCode(s, "SHUTDOWN", nil)

	require.NoError(t, p.Deactivate(ctx, "SHUTDOWN"))
	code, err := p.FindByCode(ctx, "SHUTDOWN")
	require.NoError(t, err)
	assert.False(t, code.Active)

	assert.ErrorIs(t, p.Deactivate(ctx, "MISSING1"), ErrInvalidCode)
}

func TestUsagePercentage(t *testing.T) {
	s := newMockCodeStore()
	p, _ := newTestProcessor(s)

	limit := 4
	code := seedCode(s, "QUARTERS", func(c *store.ReferralCode) {
		c.UsageLimit = &limit
		c.UsageCount = 1
	})

	pct := p.UsagePercentage(code)
	require.NotNil(t, pct)
	assert.InDelta(t, 25.0, *pct, 0.001)

	unlimited := seedCode(s, "FOREVER1", nil)
	assert.Nil(t, p.UsagePercentage(unlimited))
}

func TestGetCodeOverview(t *testing.T) {
	s := newMockCodeStore()
	s.referralCounts = store.ReferralStatusCounts{Total: 12, Completed: 7, Pending: 4}
	s.rewardTotals = store.RewardTotals{TotalRewards: 7, TotalRewardAmount: decimal.NewFromFloat(73.50)}
	p, _ := newTestProcessor(s)

	amount := decimal.NewFromInt(10)
	rewardType := store.RewardTypePercentage
	seedCode(s, "TENOFF10", func(c *store.ReferralCode) {
		c.Title = store.LocalizedText{"en": "Ten percent off", "de": "Zehn Prozent Rabatt"}
		c.RewardAmount = &amount
		c.RewardType = &rewardType
	})

	overview, err := p.GetCodeOverview(context.Background(), "TENOFF10", "de")
	require.NoError(t, err)
	assert.Equal(t, "Zehn Prozent Rabatt", overview.Title)
	assert.Equal(t, "10%", overview.FormattedRewardAmount)
	assert.Equal(t, 12, overview.Stats.TotalReferrals)
	assert.Equal(t, 7, overview.Stats.CompletedReferrals)
	assert.Equal(t, "73.50", overview.Stats.TotalRewardAmount)

	// Unknown locale falls back to English.
	fallback, err := p.GetCodeOverview(context.Background(), "TENOFF10", "fr")
	require.NoError(t, err)
	assert.Equal(t, "Ten percent off", fallback.Title)
}

func TestListCodesPagination(t *testing.T) {
	s := newMockCodeStore()
	p, _ := newTestProcessor(s)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		code, err := p.GenerateUniqueCode(ctx)
		require.NoError(t, err)
		seedCode(s, code, nil)
	}

	resp, err := p.ListCodes(ctx, ListCodesRequest{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, resp.Codes, 10)
	assert.Equal(t, 25, resp.TotalCount)
	assert.True(t, resp.HasMore)

	last, err := p.ListCodes(ctx, ListCodesRequest{Page: 3, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, last.Codes, 5)
	assert.False(t, last.HasMore)
}
