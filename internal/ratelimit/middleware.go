package ratelimit

import (
	"fmt"
	"net/http"

	"referral-engine/internal/observability"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware that rate limits by client IP.
// Check errors fail open: a Redis outage must not take the redemption
// endpoint down with it.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		clientKey := c.ClientIP()
		ctx = observability.WithFields(ctx,
			observability.Field{Key: "rate_limit_client", Value: clientKey},
		)

		result, err := s.Check(ctx, clientKey)
		if err != nil {
			errCtx := observability.WithFields(ctx, observability.Field{Key: "error", Value: err.Error()})
			s.logger.Warn(errCtx, "rate limit check failed, allowing request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", result.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
		if !result.ResetAt.IsZero() {
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetAt.Unix()))
		}

		if !result.Allowed {
			limitCtx := observability.WithFields(ctx, observability.Field{Key: "limit", Value: result.Limit})
			s.logger.Warn(limitCtx, "rate limit exceeded")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":    "Rate limit exceeded",
				"code":     "RATE_LIMIT_EXCEEDED",
				"limit":    result.Limit,
				"reset_at": result.ResetAt.Unix(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
