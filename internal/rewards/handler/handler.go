package handler

import (
	"net/http"

	"referral-engine/internal/observability"
	referralProcessor "referral-engine/internal/referrals/processor"
	"referral-engine/internal/rewards/processor"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	processor processor.RewardProcessor
	logger    *observability.Logger
}

func New(processor processor.RewardProcessor, logger *observability.Logger) Handler {
	return Handler{
		processor: processor,
		logger:    logger,
	}
}

// HandleListRewards handles GET /api/referrals/:id/rewards
func (h *Handler) HandleListRewards(c *gin.Context) {
	ctx := c.Request.Context()

	referralID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid referral id"})
		return
	}

	rewards, err := h.processor.ListByReferral(ctx, referralID)
	if err != nil {
		h.handleProcessorError(c, err)
		return
	}

	total, err := h.processor.TotalRewardAmount(ctx, referralID)
	if err != nil {
		h.handleProcessorError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rewards":      rewards,
		"total_amount": total.StringFixed(2),
	})
}

// HandleApplyReward handles POST /api/rewards/:id/apply
func (h *Handler) HandleApplyReward(c *gin.Context) {
	ctx := c.Request.Context()

	rewardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reward id"})
		return
	}

	reward, err := h.processor.Apply(ctx, rewardID)
	if err != nil {
		h.logger.Error(ctx, "failed to apply reward", err)
		h.handleProcessorError(c, err)
		return
	}

	c.JSON(http.StatusOK, reward)
}

// handleProcessorError maps processor errors to HTTP responses
func (h *Handler) handleProcessorError(c *gin.Context, err error) {
	switch err {
	case processor.ErrRewardNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "reward not found"})
	case processor.ErrAlreadyApplied:
		c.JSON(http.StatusConflict, gin.H{"error": "reward has already been applied"})
	case processor.ErrInvalidAmount:
		c.JSON(http.StatusBadRequest, gin.H{"error": "reward amount must not be negative"})
	case referralProcessor.ErrReferralNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "referral not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
