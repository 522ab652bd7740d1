package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const referralColumns = `
id, referrer_id, referred_id, referral_code, status, title, description,
source, campaign_tag, expires_at, completed_at, created_at, updated_at, deleted_at`

// CreateReferralParams represents parameters for creating a referral
type CreateReferralParams struct {
	ReferrerID   uuid.UUID
	ReferredID   uuid.UUID
	ReferralCode *string
	Title        LocalizedText
	Description  LocalizedText
	Source       *string
	CampaignTag  *string
	ExpiresAt    *time.Time
}

const sqlCreateReferral = `
INSERT INTO referrals (referrer_id, referred_id, referral_code, title, description, source, campaign_tag, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING` + referralColumns

// CreateReferral creates a new referral in pending status. A partial
// unique index on referred_id over non-deleted rows backs the
// one-referral-per-referred invariant; a violation surfaces as
// ErrConflict so two concurrent creations cannot both succeed.
func (s *Store) CreateReferral(ctx context.Context, params CreateReferralParams) (Referral, error) {
	var referral Referral
	err := s.db.GetContext(ctx, &referral, sqlCreateReferral,
		params.ReferrerID,
		params.ReferredID,
		params.ReferralCode,
		params.Title,
		params.Description,
		params.Source,
		params.CampaignTag,
		params.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Referral{}, ErrConflict
		}
		s.logger.Error(ctx, "failed to create referral", err)
		return Referral{}, fmt.Errorf("failed to create referral: %w", err)
	}
	return referral, nil
}

const sqlGetReferralByID = `
SELECT` + referralColumns + `
FROM referrals
WHERE id = $1 AND deleted_at IS NULL
`

// GetReferralByID retrieves a non-deleted referral by ID
func (s *Store) GetReferralByID(ctx context.Context, referralID uuid.UUID) (Referral, error) {
	var referral Referral
	err := s.db.GetContext(ctx, &referral, sqlGetReferralByID, referralID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Referral{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get referral by id", err)
		return Referral{}, fmt.Errorf("failed to get referral by id: %w", err)
	}
	return referral, nil
}

const sqlGetReferralByCode = `
SELECT` + referralColumns + `
FROM referrals
WHERE referral_code = $1 AND deleted_at IS NULL
ORDER BY created_at DESC
LIMIT 1
`

// GetReferralByCode retrieves the most recent non-deleted referral
// bound to a code
func (s *Store) GetReferralByCode(ctx context.Context, code string) (Referral, error) {
	var referral Referral
	err := s.db.GetContext(ctx, &referral, sqlGetReferralByCode, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Referral{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get referral by code", err)
		return Referral{}, fmt.Errorf("failed to get referral by code: %w", err)
	}
	return referral, nil
}

const sqlGetActiveReferralByReferred = `
SELECT` + referralColumns + `
FROM referrals
WHERE referred_id = $1 AND deleted_at IS NULL
LIMIT 1
`

// GetActiveReferralByReferred retrieves the non-deleted referral for a
// referred identity, if any
func (s *Store) GetActiveReferralByReferred(ctx context.Context, referredID uuid.UUID) (Referral, error) {
	var referral Referral
	err := s.db.GetContext(ctx, &referral, sqlGetActiveReferralByReferred, referredID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Referral{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get referral by referred", err)
		return Referral{}, fmt.Errorf("failed to get referral by referred: %w", err)
	}
	return referral, nil
}

const sqlCountActiveReferralsByReferrer = `
SELECT COUNT(*)
FROM referrals
WHERE referrer_id = $1 AND status = 'pending' AND deleted_at IS NULL
`

// CountActiveReferralsByReferrer counts a referrer's non-terminal,
// non-deleted referrals
func (s *Store) CountActiveReferralsByReferrer(ctx context.Context, referrerID uuid.UUID) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, sqlCountActiveReferralsByReferrer, referrerID)
	if err != nil {
		s.logger.Error(ctx, "failed to count active referrals", err)
		return 0, fmt.Errorf("failed to count active referrals: %w", err)
	}
	return count, nil
}

const sqlGetReferralsByReferrer = `
SELECT` + referralColumns + `
FROM referrals
WHERE referrer_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

// GetReferralsByReferrer retrieves referrals made by a user with pagination
func (s *Store) GetReferralsByReferrer(ctx context.Context, referrerID uuid.UUID, limit, offset int) ([]Referral, error) {
	var referrals []Referral
	err := s.db.SelectContext(ctx, &referrals, sqlGetReferralsByReferrer, referrerID, limit, offset)
	if err != nil {
		s.logger.Error(ctx, "failed to get referrals by referrer", err)
		return nil, fmt.Errorf("failed to get referrals by referrer: %w", err)
	}
	return referrals, nil
}

const sqlMarkReferralCompleted = `
UPDATE referrals
SET status = 'completed',
    completed_at = CURRENT_TIMESTAMP,
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1 AND status = 'pending' AND deleted_at IS NULL
RETURNING` + referralColumns

// MarkReferralCompleted transitions a pending referral to completed.
// The status guard sits inside the UPDATE, so a referral already in a
// terminal state matches no row and ErrNotFound is returned; callers
// disambiguate against the current row.
func (s *Store) MarkReferralCompleted(ctx context.Context, referralID uuid.UUID) (Referral, error) {
	var referral Referral
	err := s.db.GetContext(ctx, &referral, sqlMarkReferralCompleted, referralID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Referral{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to mark referral completed", err)
		return Referral{}, fmt.Errorf("failed to mark referral completed: %w", err)
	}
	return referral, nil
}

const sqlMarkReferralExpired = `
UPDATE referrals
SET status = 'expired',
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1 AND status = 'pending' AND deleted_at IS NULL
RETURNING` + referralColumns

// MarkReferralExpired transitions a pending referral to expired under
// the same status guard as MarkReferralCompleted.
func (s *Store) MarkReferralExpired(ctx context.Context, referralID uuid.UUID) (Referral, error) {
	var referral Referral
	err := s.db.GetContext(ctx, &referral, sqlMarkReferralExpired, referralID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Referral{}, ErrNotFound
		}
		s.logger.Error(ctx, "failed to mark referral expired", err)
		return Referral{}, fmt.Errorf("failed to mark referral expired: %w", err)
	}
	return referral, nil
}

const sqlExpireDueReferrals = `
UPDATE referrals
SET status = 'expired',
    updated_at = CURRENT_TIMESTAMP
WHERE status = 'pending'
  AND expires_at IS NOT NULL
  AND expires_at <= CURRENT_TIMESTAMP
  AND deleted_at IS NULL
`

// ExpireDueReferrals marks all past-due pending referrals expired and
// returns how many rows changed
func (s *Store) ExpireDueReferrals(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, sqlExpireDueReferrals)
	if err != nil {
		s.logger.Error(ctx, "failed to expire due referrals", err)
		return 0, fmt.Errorf("failed to expire due referrals: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		s.logger.Error(ctx, "failed to get rows affected", err)
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

const sqlSoftDeleteReferral = `
UPDATE referrals
SET deleted_at = CURRENT_TIMESTAMP,
    updated_at = CURRENT_TIMESTAMP
WHERE id = $1 AND deleted_at IS NULL
`

// SoftDeleteReferral tombstones a referral. Deleted rows no longer
// count toward the one-referral-per-referred invariant.
func (s *Store) SoftDeleteReferral(ctx context.Context, referralID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, sqlSoftDeleteReferral, referralID)
	if err != nil {
		s.logger.Error(ctx, "failed to soft delete referral", err)
		return fmt.Errorf("failed to soft delete referral: %w", err)
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

// ReferralStatusCounts aggregates referral counts by status for a code
type ReferralStatusCounts struct {
	Total     int `db:"total"`
	Completed int `db:"completed"`
	Pending   int `db:"pending"`
}

const sqlCountReferralsByCodeAndStatus = `
SELECT COUNT(*) AS total,
       COUNT(*) FILTER (WHERE status = 'completed') AS completed,
       COUNT(*) FILTER (WHERE status = 'pending') AS pending
FROM referrals
WHERE referral_code = $1 AND deleted_at IS NULL
`

// CountReferralsByCodeAndStatus returns per-status referral counts for
// a code, used by the display projection
func (s *Store) CountReferralsByCodeAndStatus(ctx context.Context, code string) (ReferralStatusCounts, error) {
	var counts ReferralStatusCounts
	err := s.db.GetContext(ctx, &counts, sqlCountReferralsByCodeAndStatus, code)
	if err != nil {
		s.logger.Error(ctx, "failed to count referrals by code", err)
		return ReferralStatusCounts{}, fmt.Errorf("failed to count referrals by code: %w", err)
	}
	return counts, nil
}
