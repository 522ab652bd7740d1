package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const referralCodeColumns = `
id, code, owner_id, active, title, description, usage_limit, usage_count,
reward_amount, reward_type, expires_at, campaign_id, source, tags, conditions,
created_at, updated_at`

// CreateReferralCodeParams represents parameters for issuing a referral code
type CreateReferralCodeParams struct {
	Code         string
	OwnerID      uuid.UUID
	Title        LocalizedText
	Description  LocalizedText
	UsageLimit   *int
	RewardAmount *decimal.Decimal
	RewardType   *string
	ExpiresAt    *time.Time
	CampaignID   *uuid.UUID
	Source       string
	Tags         StringArray
	Conditions   ConditionList
}

const sqlCreateReferralCode = `
INSERT INTO referral_codes (code, owner_id, title, description, usage_limit, reward_amount, reward_type, expires_at, campaign_id, source, tags, conditions)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING` + referralCodeColumns

// CreateReferralCode issues a new referral code. Returns ErrConflict if
// the code string is already taken.
func (s *Store) CreateReferralCode(ctx context.Context, params CreateReferralCodeParams) (ReferralCode, error) {
	var code ReferralCode
	err := s.db.GetContext(ctx, &code, sqlCreateReferralCode,
		params.Code,
		params.OwnerID,
		params.Title,
		params.Description,
		params.UsageLimit,
		params.RewardAmount,
		params.RewardType,
		params.ExpiresAt,
		params.CampaignID,
		params.Source,
		params.Tags,
		params.Conditions)
	if err != nil {
		if isUniqueViolation(err) {
			return ReferralCode{}, ErrConflict
		}
		s.logger.Error(ctx, "failed to create referral code", err)
		return ReferralCode{}, fmt.Errorf("failed to create referral code: %w", err)
	}
	return code, nil
}

const sqlGetReferralCodeByCode = `
SELECT` + referralCodeColumns + `
FROM referral_codes
WHERE code = $1
`

// GetReferralCodeByCode retrieves a referral code by its code string
func (s *Store) GetReferralCodeByCode(ctx context.Context, code string) (ReferralCode, error) {
	var referralCode ReferralCode
	err := s.db.GetContext(ctx, &referralCode, sqlGetReferralCodeByCode, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ReferralCode{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get referral code", err)
		return ReferralCode{}, fmt.Errorf("failed to get referral code: %w", err)
	}
	return referralCode, nil
}

const sqlReferralCodeExists = `
SELECT EXISTS (SELECT 1 FROM referral_codes WHERE code = $1)
`

// ReferralCodeExists reports whether a code string is already taken
func (s *Store) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, sqlReferralCodeExists, code)
	if err != nil {
		s.logger.Error(ctx, "failed to check referral code existence", err)
		return false, fmt.Errorf("failed to check referral code existence: %w", err)
	}
	return exists, nil
}

const sqlListReferralCodes = `
SELECT` + referralCodeColumns + `
FROM referral_codes
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`

// ListReferralCodes retrieves referral codes with pagination
func (s *Store) ListReferralCodes(ctx context.Context, limit, offset int) ([]ReferralCode, error) {
	var codes []ReferralCode
	err := s.db.SelectContext(ctx, &codes, sqlListReferralCodes, limit, offset)
	if err != nil {
		s.logger.Error(ctx, "failed to list referral codes", err)
		return nil, fmt.Errorf("failed to list referral codes: %w", err)
	}
	return codes, nil
}

const sqlCountReferralCodes = `
SELECT COUNT(*)
FROM referral_codes
`

// CountReferralCodes counts all issued referral codes
func (s *Store) CountReferralCodes(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, sqlCountReferralCodes)
	if err != nil {
		s.logger.Error(ctx, "failed to count referral codes", err)
		return 0, fmt.Errorf("failed to count referral codes: %w", err)
	}
	return count, nil
}

const sqlIncrementCodeUsage = `
UPDATE referral_codes
SET usage_count = usage_count + 1,
    updated_at = CURRENT_TIMESTAMP
WHERE code = $1
  AND active = true
  AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)
  AND (usage_limit IS NULL OR usage_count < usage_limit)
RETURNING` + referralCodeColumns

// IncrementCodeUsage atomically increments a code's usage counter. The
// guard repeats the validity rules inside the UPDATE itself, so two
// concurrent redemptions can never both pass the limit check: the row
// is re-checked under the row lock the UPDATE takes. Returns
// ErrConflict if the guard matched no row even though the caller's
// earlier read said the code was redeemable.
func (s *Store) IncrementCodeUsage(ctx context.Context, code string) (ReferralCode, error) {
	var referralCode ReferralCode
	err := s.db.GetContext(ctx, &referralCode, sqlIncrementCodeUsage, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ReferralCode{}, ErrConflict
		}
		s.logger.Error(ctx, "failed to increment code usage", err)
		return ReferralCode{}, fmt.Errorf("failed to increment code usage: %w", err)
	}
	return referralCode, nil
}

const sqlDeactivateReferralCode = `
UPDATE referral_codes
SET active = false,
    updated_at = CURRENT_TIMESTAMP
WHERE code = $1
`

// DeactivateReferralCode sets active = false. Idempotent: deactivating
// an already-inactive code succeeds.
func (s *Store) DeactivateReferralCode(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, sqlDeactivateReferralCode, code)
	if err != nil {
		s.logger.Error(ctx, "failed to deactivate referral code", err)
		return fmt.Errorf("failed to deactivate referral code: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		s.logger.Error(ctx, "failed to get rows affected", err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
