package api

import (
	"net/http"

	codeHandler "referral-engine/internal/codes/handler"
	"referral-engine/internal/ratelimit"
	referralHandler "referral-engine/internal/referrals/handler"
	rewardHandler "referral-engine/internal/rewards/handler"

	"github.com/gin-gonic/gin"
)

type API struct {
	router          *gin.RouterGroup
	codeHandler     codeHandler.Handler
	referralHandler referralHandler.Handler
	rewardHandler   rewardHandler.Handler
	rateLimiter     *ratelimit.Service
}

func New(
	router *gin.RouterGroup,
	codeHandler codeHandler.Handler,
	referralHandler referralHandler.Handler,
	rewardHandler rewardHandler.Handler,
	rateLimiter *ratelimit.Service,
) API {
	return API{
		router:          router,
		codeHandler:     codeHandler,
		referralHandler: referralHandler,
		rewardHandler:   rewardHandler,
		rateLimiter:     rateLimiter,
	}
}

func (a *API) RegisterRoutes() {
	a.Health()
	apiGroup := a.router.Group("/api")
	{
		apiGroup.POST("/redeem", a.rateLimiter.Middleware(), a.codeHandler.HandleRedeem)

		codesGroup := apiGroup.Group("/codes")
		codesGroup.POST("", a.codeHandler.HandleCreateCode)
		codesGroup.GET("", a.codeHandler.HandleListCodes)
		codesGroup.GET("/:code", a.codeHandler.HandleGetCode)
		codesGroup.GET("/:code/overview", a.codeHandler.HandleGetOverview)
		codesGroup.GET("/:code/usage", a.codeHandler.HandleUsageHistory)
		codesGroup.GET("/:code/stats", a.codeHandler.HandleGetStatistics)
		codesGroup.POST("/:code/deactivate", a.codeHandler.HandleDeactivate)
		codesGroup.POST("/:code/snapshot", a.codeHandler.HandleSnapshot)

		referralsGroup := apiGroup.Group("/referrals")
		referralsGroup.POST("", a.referralHandler.HandleCreateReferral)
		referralsGroup.GET("", a.referralHandler.HandleListReferrals)
		referralsGroup.GET("/by-code/:code", a.referralHandler.HandleGetReferralByCode)
		referralsGroup.GET("/:id", a.referralHandler.HandleGetReferral)
		referralsGroup.DELETE("/:id", a.referralHandler.HandleDeleteReferral)
		referralsGroup.GET("/:id/score", a.referralHandler.HandleGetScore)
		referralsGroup.GET("/:id/rewards", a.rewardHandler.HandleListRewards)
		referralsGroup.POST("/:id/expire", a.referralHandler.HandleExpireReferral)

		apiGroup.POST("/conversions", a.referralHandler.HandleConversion)
		apiGroup.POST("/rewards/:id/apply", a.rewardHandler.HandleApplyReward)
	}
}

func (a *API) Health() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
}
