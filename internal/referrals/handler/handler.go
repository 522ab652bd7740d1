package handler

import (
	"net/http"
	"strconv"
	"time"

	"referral-engine/internal/observability"
	"referral-engine/internal/referrals/processor"
	rewardProcessor "referral-engine/internal/rewards/processor"
	"referral-engine/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Handler struct {
	processor processor.ReferralProcessor
	rewards   rewardProcessor.RewardProcessor
	logger    *observability.Logger
}

func New(processor processor.ReferralProcessor, rewards rewardProcessor.RewardProcessor, logger *observability.Logger) Handler {
	return Handler{
		processor: processor,
		rewards:   rewards,
		logger:    logger,
	}
}

// CreateReferralRequest represents the HTTP request for creating a referral
type CreateReferralRequest struct {
	ReferrerID  string            `json:"referrer_id" binding:"required"`
	ReferredID  string            `json:"referred_id" binding:"required"`
	Code        *string           `json:"code"`
	Title       map[string]string `json:"title"`
	Description map[string]string `json:"description"`
	Source      *string           `json:"source"`
	CampaignTag *string           `json:"campaign_tag"`
	ExpiresAt   *time.Time        `json:"expires_at"`
}

// CreateReferralResponse represents the HTTP response after creation
type CreateReferralResponse struct {
	Success    bool      `json:"success"`
	ReferralID uuid.UUID `json:"referral_id"`
}

// HandleCreateReferral handles POST /api/referrals
func (h *Handler) HandleCreateReferral(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error(ctx, "failed to bind request", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	referrerID, err := uuid.Parse(req.ReferrerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referrer id"})
		return
	}

	referredID, err := uuid.Parse(req.ReferredID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referred id"})
		return
	}

	referral, err := h.processor.Create(ctx, processor.CreateReferralRequest{
		ReferrerID:  referrerID,
		ReferredID:  referredID,
		Code:        req.Code,
		Title:       store.LocalizedText(req.Title),
		Description: store.LocalizedText(req.Description),
		Source:      req.Source,
		CampaignTag: req.CampaignTag,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		h.logger.Error(ctx, "failed to create referral", err)
		h.handleProcessorError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateReferralResponse{Success: true, ReferralID: referral.ID})
}

// HandleGetReferral handles GET /api/referrals/:id
func (h *Handler) HandleGetReferral(c *gin.Context) {
	ctx := c.Request.Context()

	referralID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referral id"})
		return
	}

	referral, err := h.processor.Get(ctx, referralID)
	if err != nil {
		h.handleProcessorError(c, err)
		return
	}

	c.JSON(http.StatusOK, referral)
}

// ScoreResponse represents the performance projection of one referral
type ScoreResponse struct {
	ReferralID       uuid.UUID `json:"referral_id"`
	Status           string    `json:"status"`
	Valid            bool      `json:"valid"`
	PerformanceScore int       `json:"performance_score"`
	ConversionRate   float64   `json:"conversion_rate"`
	AboutToExpire    bool      `json:"about_to_expire"`
}

// HandleGetScore handles GET /api/referrals/:id/score. The caller
// supplies the order-existence fact as a query parameter because this
// engine never reads the order subsystem's storage.
func (h *Handler) HandleGetScore(c *gin.Context) {
	ctx := c.Request.Context()

	referralID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referral id"})
		return
	}

	referredHasOrdered, _ := strconv.ParseBool(c.DefaultQuery("referred_has_ordered", "false"))
	withinDays, _ := strconv.Atoi(c.DefaultQuery("within_days", "7"))

	referral, err := h.processor.Get(ctx, referralID)
	if err != nil {
		h.handleProcessorError(c, err)
		return
	}

	score, err := h.processor.PerformanceScore(ctx, referral, referredHasOrdered)
	if err != nil {
		h.handleProcessorError(c, err)
		return
	}

	c.JSON(http.StatusOK, ScoreResponse{
		ReferralID:       referral.ID,
		Status:           referral.Status,
		Valid:            h.processor.IsValid(referral),
		PerformanceScore: score,
		ConversionRate:   h.processor.ConversionRate(referredHasOrdered),
		AboutToExpire:    h.processor.IsAboutToExpire(referral, withinDays),
	})
}

// HandleExpireReferral handles POST /api/referrals/:id/expire
func (h *Handler) HandleExpireReferral(c *gin.Context) {
	ctx := c.Request.Context()

	referralID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referral id"})
		return
	}

	referral, err := h.processor.MarkExpired(ctx, referralID)
	if err != nil {
		h.handleProcessorError(c, err)
		return
	}

	c.JSON(http.StatusOK, referral)
}

// HandleGetReferralByCode handles GET /api/referrals/by-code/:code
func (h *Handler) HandleGetReferralByCode(c *gin.Context) {
	ctx := c.Request.Context()

	referral, err := h.processor.FindByCode(ctx, c.Param("code"))
	if err != nil {
		h.handleProcessorError(c, err)
		return
	}

	c.JSON(http.StatusOK, referral)
}

// HandleListReferrals handles GET /api/referrals?referrer_id=...
func (h *Handler) HandleListReferrals(c *gin.Context) {
	ctx := c.Request.Context()

	referrerID, err := uuid.Parse(c.Query("referrer_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referrer id"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	referrals, err := h.processor.ListByReferrer(ctx, referrerID, page, limit)
	if err != nil {
		h.handleProcessorError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"referrals": referrals})
}

// HandleDeleteReferral handles DELETE /api/referrals/:id
func (h *Handler) HandleDeleteReferral(c *gin.Context) {
	ctx := c.Request.Context()

	referralID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referral id"})
		return
	}

	if err := h.processor.Delete(ctx, referralID); err != nil {
		h.handleProcessorError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "referral deleted"})
}

// ConversionRequest represents the order subsystem's callback when a
// referred user's qualifying order completes
type ConversionRequest struct {
	ReferredID string  `json:"referred_id" binding:"required"`
	OrderTotal string  `json:"order_total" binding:"required"`
	Currency   *string `json:"currency"`
}

// ConversionResponse represents the outcome of a conversion
type ConversionResponse struct {
	Success    bool                  `json:"success"`
	ReferralID uuid.UUID             `json:"referral_id"`
	Reward     *store.ReferralReward `json:"reward,omitempty"`
}

// HandleConversion handles POST /api/conversions: completes the
// referral and materializes its reward.
func (h *Handler) HandleConversion(c *gin.Context) {
	ctx := c.Request.Context()

	var req ConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error(ctx, "failed to bind request", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	referredID, err := uuid.Parse(req.ReferredID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referred id"})
		return
	}

	orderTotal, err := decimal.NewFromString(req.OrderTotal)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order total"})
		return
	}

	referral, err := h.processor.MarkConversion(ctx, referredID)
	if err != nil {
		h.logger.Error(ctx, "failed to mark conversion", err)
		h.handleProcessorError(c, err)
		return
	}

	currency := ""
	if req.Currency != nil {
		currency = *req.Currency
	}

	reward, err := h.rewards.IssueForConversion(ctx, referral, orderTotal, currency)
	if err != nil {
		// The referral is already completed; reward materialization
		// failures surface so the caller can retry issuance.
		h.logger.Error(ctx, "failed to issue conversion reward", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "referral completed but reward issuance failed"})
		return
	}

	c.JSON(http.StatusOK, ConversionResponse{
		Success:    true,
		ReferralID: referral.ID,
		Reward:     reward,
	})
}

// handleProcessorError maps processor errors to HTTP responses
func (h *Handler) handleProcessorError(c *gin.Context, err error) {
	switch err {
	case processor.ErrReferralNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "referral not found"})
	case processor.ErrSelfReferral:
		c.JSON(http.StatusBadRequest, gin.H{"error": "a user cannot refer themselves"})
	case processor.ErrAlreadyReferred:
		c.JSON(http.StatusConflict, gin.H{"error": "user has already been referred"})
	case processor.ErrReferralLimitExceeded:
		c.JSON(http.StatusConflict, gin.H{"error": "referrer has too many active referrals"})
	case processor.ErrInvalidTransition:
		c.JSON(http.StatusConflict, gin.H{"error": "referral is already in a terminal state"})
	case processor.ErrPersistenceConflict:
		c.JSON(http.StatusConflict, gin.H{"error": "conflict, please retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
