package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"referral-engine/internal/audit"
	"referral-engine/internal/codes/processor"
	"referral-engine/internal/conditions"
	"referral-engine/internal/observability"
	referralProcessor "referral-engine/internal/referrals/processor"
	"referral-engine/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Handler struct {
	processor processor.CodeProcessor
	referrals referralProcessor.ReferralProcessor
	auditor   audit.Auditor
	logger    *observability.Logger
}

func New(processor processor.CodeProcessor, referrals referralProcessor.ReferralProcessor, auditor audit.Auditor, logger *observability.Logger) Handler {
	return Handler{
		processor: processor,
		referrals: referrals,
		auditor:   auditor,
		logger:    logger,
	}
}

// CreateCodeRequest represents the HTTP request for issuing a code
type CreateCodeRequest struct {
	OwnerID      string                 `json:"owner_id" binding:"required"`
	Title        map[string]string      `json:"title"`
	Description  map[string]string      `json:"description"`
	UsageLimit   *int                   `json:"usage_limit"`
	RewardAmount *string                `json:"reward_amount"`
	RewardType   *string                `json:"reward_type"`
	ExpiresAt    *time.Time             `json:"expires_at"`
	CampaignID   *string                `json:"campaign_id"`
	Source       string                 `json:"source"`
	Tags         []string               `json:"tags"`
	Conditions   []conditions.Condition `json:"conditions"`
}

// HandleCreateCode handles POST /api/codes
func (h *Handler) HandleCreateCode(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error(ctx, "failed to bind request", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid owner id"})
		return
	}

	processorReq := processor.CreateCodeRequest{
		OwnerID:     ownerID,
		Title:       store.LocalizedText(req.Title),
		Description: store.LocalizedText(req.Description),
		UsageLimit:  req.UsageLimit,
		RewardType:  req.RewardType,
		ExpiresAt:   req.ExpiresAt,
		Source:      req.Source,
		Tags:        req.Tags,
		Conditions:  req.Conditions,
	}

	if req.RewardAmount != nil {
		amount, err := decimal.NewFromString(*req.RewardAmount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reward amount"})
			return
		}
		processorReq.RewardAmount = &amount
	}

	if req.CampaignID != nil {
		campaignID, err := uuid.Parse(*req.CampaignID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid campaign id"})
			return
		}
		processorReq.CampaignID = &campaignID
	}

	code, err := h.processor.CreateCode(ctx, processorReq)
	if err != nil {
		h.logger.Error(ctx, "failed to create code", err)
		h.handleProcessorError(c, err)
		return
	}

	c.JSON(http.StatusCreated, code)
}

// HandleGetCode handles GET /api/codes/:code
func (h *Handler) HandleGetCode(c *gin.Context) {
	ctx := c.Request.Context()

	code, err := h.processor.FindByCode(ctx, c.Param("code"))
	if err != nil {
		h.handleProcessorError(c, err)
		return
	}

	c.JSON(http.StatusOK, code)
}

// HandleListCodes handles GET /api/codes
func (h *Handler) HandleListCodes(c *gin.Context) {
	ctx := c.Request.Context()

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	response, err := h.processor.ListCodes(ctx, processor.ListCodesRequest{Page: page, Limit: limit})
	if err != nil {
		h.handleProcessorError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// HandleGetOverview handles GET /api/codes/:code/overview
func (h *Handler) HandleGetOverview(c *gin.Context) {
	ctx := c.Request.Context()

	locale := c.DefaultQuery("locale", "en")

	overview, err := h.processor.GetCodeOverview(ctx, c.Param("code"), locale)
	if err != nil {
		h.handleProcessorError(c, err)
		return
	}

	c.JSON(http.StatusOK, overview)
}

// HandleDeactivate handles POST /api/codes/:code/deactivate
func (h *Handler) HandleDeactivate(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.processor.Deactivate(ctx, c.Param("code")); err != nil {
		h.handleProcessorError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "code deactivated"})
}

// HandleSnapshot handles POST /api/codes/:code/snapshot
func (h *Handler) HandleSnapshot(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.auditor.SnapshotStatistics(ctx, c.Param("code"))
	if err != nil {
		h.logger.Error(ctx, "failed to snapshot statistics", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// HandleGetStatistics handles GET /api/codes/:code/stats: reads the
// stored snapshot without recomputing.
func (h *Handler) HandleGetStatistics(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.auditor.Statistics(ctx, c.Param("code"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no statistics snapshot for this code"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// HandleUsageHistory handles GET /api/codes/:code/usage
func (h *Handler) HandleUsageHistory(c *gin.Context) {
	ctx := c.Request.Context()

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	logs, err := h.auditor.UsageHistory(ctx, c.Param("code"), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"usage_logs": logs})
}

// RedeemRequest represents the HTTP request for redeeming a code
type RedeemRequest struct {
	Code         string                 `json:"code" binding:"required"`
	ActingUserID string                 `json:"acting_user_id" binding:"required"`
	Context      map[string]interface{} `json:"context"`
}

// RedeemResponse represents the HTTP response for a redemption attempt
type RedeemResponse struct {
	Success        bool       `json:"success"`
	Message        string     `json:"message"`
	RemainingUsage *int       `json:"remaining_usage,omitempty"`
	ReferralID     *uuid.UUID `json:"referral_id,omitempty"`
}

// HandleRedeem handles POST /api/redeem. A successful redemption also
// records the code-owner to redeemer pairing; a pairing that cannot be
// recorded (self-redemption, an already-referred user) does not unwind
// the redemption.
func (h *Handler) HandleRedeem(c *gin.Context) {
	ctx := c.Request.Context()

	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error(ctx, "failed to bind request", err)
		c.JSON(http.StatusBadRequest, RedeemResponse{Success: false, Message: "invalid request"})
		return
	}

	actingUserID, err := uuid.Parse(req.ActingUserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, RedeemResponse{Success: false, Message: "invalid acting user id"})
		return
	}

	if req.Context == nil {
		req.Context = map[string]interface{}{}
	}

	result, err := h.processor.Redeem(ctx, req.Code, actingUserID, req.Context)
	if err != nil {
		h.logger.Error(ctx, "failed to redeem code", err)
		status, message := redeemFailure(err)
		c.JSON(status, RedeemResponse{Success: false, Message: message})
		return
	}

	var referralID *uuid.UUID
	referral, err := h.referrals.CreateFromRedemption(ctx, result.Code, actingUserID)
	if err != nil {
		h.logger.Warn(observability.WithFields(ctx,
			observability.Field{Key: "reason", Value: err.Error()}),
			"redemption recorded without a referral pairing")
	} else {
		referralID = &referral.ID
	}

	c.JSON(http.StatusOK, RedeemResponse{
		Success:        true,
		Message:        "code redeemed",
		RemainingUsage: result.RemainingUsage,
		ReferralID:     referralID,
	})
}

// redeemFailure maps redemption errors to a status and a short,
// specific user-facing message
func redeemFailure(err error) (int, string) {
	switch err {
	case processor.ErrInvalidCode:
		return http.StatusNotFound, "this code does not exist"
	case processor.ErrCodeInactive:
		return http.StatusConflict, "this code is no longer active"
	case processor.ErrCodeExpired:
		return http.StatusConflict, "this code has expired"
	case processor.ErrUsageLimitReached:
		return http.StatusConflict, "this code has reached its usage limit"
	case processor.ErrConditionNotMet:
		return http.StatusUnprocessableEntity, "the conditions for this code are not met"
	case processor.ErrPersistenceConflict:
		return http.StatusConflict, "please retry the redemption"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// handleProcessorError maps processor errors to HTTP responses
func (h *Handler) handleProcessorError(c *gin.Context, err error) {
	switch err {
	case processor.ErrInvalidCode:
		c.JSON(http.StatusNotFound, gin.H{"error": "referral code not found"})
	case processor.ErrInvalidRewardConfig:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reward configuration"})
	case processor.ErrPersistenceConflict:
		c.JSON(http.StatusConflict, gin.H{"error": "conflict, please retry"})
	default:
		if errors.Is(err, conditions.ErrInvalidCondition) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid condition"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
