package store

// Referral ENUMs
const (
	ReferralStatusPending   = "pending"
	ReferralStatusCompleted = "completed"
	ReferralStatusExpired   = "expired"
)

// Reward ENUMs
const (
	RewardStatusPending = "pending"
	RewardStatusApplied = "applied"
)

const (
	RewardTypeFixed      = "fixed"
	RewardTypePercentage = "percentage"
)

// Code source ENUMs
const (
	CodeSourceAdmin    = "admin"
	CodeSourceCampaign = "campaign"
	CodeSourceAPI      = "api"
)
