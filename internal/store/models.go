package store

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"referral-engine/internal/conditions"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// JSONB is a custom type for JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("incompatible type for JSONB")
	}

	// Handle empty or null JSON
	if len(bytes) == 0 || string(bytes) == "null" {
		*j = make(JSONB)
		return nil
	}

	result := make(JSONB)
	err := json.Unmarshal(bytes, &result)
	if err != nil {
		return err
	}
	*j = result
	return nil
}

// StringArray is a custom type for PostgreSQL text[] arrays
type StringArray []string

// Value implements the driver.Valuer interface for StringArray
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	if len(a) == 0 {
		return "{}", nil
	}
	// PostgreSQL array format: {item1,item2,item3}
	return "{" + strings.Join(a, ",") + "}", nil
}

// Scan implements the sql.Scanner interface for StringArray
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	var str string
	switch v := value.(type) {
	case []byte:
		str = string(v)
	case string:
		str = v
	default:
		return fmt.Errorf("unsupported type for StringArray: %T", value)
	}

	// Handle empty array
	if str == "" || str == "{}" {
		*a = StringArray{}
		return nil
	}

	str = strings.Trim(str, "{}")
	*a = StringArray(strings.Split(str, ","))
	return nil
}

// LocalizedText maps locale codes to translated strings, stored as JSONB.
type LocalizedText map[string]string

// Value implements the driver.Valuer interface for LocalizedText
func (t LocalizedText) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	return json.Marshal(t)
}

// Scan implements the sql.Scanner interface for LocalizedText
func (t *LocalizedText) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("incompatible type for LocalizedText")
	}

	if len(bytes) == 0 || string(bytes) == "null" {
		*t = make(LocalizedText)
		return nil
	}

	result := make(LocalizedText)
	if err := json.Unmarshal(bytes, &result); err != nil {
		return err
	}
	*t = result
	return nil
}

// Resolve returns the text for locale, falling back to fallbackLocale
// and then to any stored value.
func (t LocalizedText) Resolve(locale, fallbackLocale string) string {
	if v, ok := t[locale]; ok && v != "" {
		return v
	}
	if v, ok := t[fallbackLocale]; ok && v != "" {
		return v
	}
	for _, v := range t {
		if v != "" {
			return v
		}
	}
	return ""
}

// ConditionList is a list of eligibility conditions stored as a JSONB array.
type ConditionList []conditions.Condition

// Value implements the driver.Valuer interface for ConditionList
func (c ConditionList) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements the sql.Scanner interface for ConditionList
func (c *ConditionList) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("incompatible type for ConditionList")
	}

	if len(bytes) == 0 || string(bytes) == "null" {
		*c = nil
		return nil
	}

	var result []conditions.Condition
	if err := json.Unmarshal(bytes, &result); err != nil {
		return err
	}
	*c = ConditionList(result)
	return nil
}

// ReferralCode represents a shareable code granting conditional
// eligibility for a referral action. The code string is immutable once
// issued and usage_count only ever increases.
type ReferralCode struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	Code        string        `db:"code" json:"code"`
	OwnerID     uuid.UUID     `db:"owner_id" json:"owner_id"`
	Active      bool          `db:"active" json:"active"`
	Title       LocalizedText `db:"title" json:"title"`
	Description LocalizedText `db:"description" json:"description,omitempty"`

	UsageLimit *int `db:"usage_limit" json:"usage_limit,omitempty"`
	UsageCount int  `db:"usage_count" json:"usage_count"`

	RewardAmount *decimal.Decimal `db:"reward_amount" json:"reward_amount,omitempty"`
	RewardType   *string          `db:"reward_type" json:"reward_type,omitempty"`

	ExpiresAt  *time.Time    `db:"expires_at" json:"expires_at,omitempty"`
	CampaignID *uuid.UUID    `db:"campaign_id" json:"campaign_id,omitempty"`
	Source     string        `db:"source" json:"source"`
	Tags       StringArray   `db:"tags" json:"tags,omitempty"`
	Conditions ConditionList `db:"conditions" json:"conditions,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Referral represents one referrer→referred pairing with its own
// completion lifecycle.
type Referral struct {
	ID           uuid.UUID     `db:"id" json:"id"`
	ReferrerID   uuid.UUID     `db:"referrer_id" json:"referrer_id"`
	ReferredID   uuid.UUID     `db:"referred_id" json:"referred_id"`
	ReferralCode *string       `db:"referral_code" json:"referral_code,omitempty"`
	Status       string        `db:"status" json:"status"`
	Title        LocalizedText `db:"title" json:"title,omitempty"`
	Description  LocalizedText `db:"description" json:"description,omitempty"`
	Source       *string       `db:"source" json:"source,omitempty"`
	CampaignTag  *string       `db:"campaign_tag" json:"campaign_tag,omitempty"`

	ExpiresAt   *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ReferralReward represents a reward entry tied to a referral. Rows are
// append-only; only status transitions after creation.
type ReferralReward struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	ReferralID   uuid.UUID       `db:"referral_id" json:"referral_id"`
	ReferralCode *string         `db:"referral_code" json:"referral_code,omitempty"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Currency     string          `db:"currency" json:"currency"`
	Status       string          `db:"status" json:"status"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CodeUsageLog is one append-only audit row per successful redemption.
type CodeUsageLog struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ReferralCode string    `db:"referral_code" json:"referral_code"`
	ActingUserID uuid.UUID `db:"acting_user_id" json:"acting_user_id"`
	Context      JSONB     `db:"context" json:"context,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// CodeStatistics is a periodic aggregate snapshot per code, derived
// from usage logs and rewards. Rebuildable, never authoritative.
type CodeStatistics struct {
	ReferralCode      string          `db:"referral_code" json:"referral_code"`
	TotalRedemptions  int             `db:"total_redemptions" json:"total_redemptions"`
	DistinctUsers     int             `db:"distinct_users" json:"distinct_users"`
	TotalRewards      int             `db:"total_rewards" json:"total_rewards"`
	TotalRewardAmount decimal.Decimal `db:"total_reward_amount" json:"total_reward_amount"`
	LastUsedAt        *time.Time      `db:"last_used_at" json:"last_used_at,omitempty"`
	SnapshotAt        time.Time       `db:"snapshot_at" json:"snapshot_at"`
}
