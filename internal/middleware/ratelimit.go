package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/autra-ai/marketplace/internal/cache"
	apierrors "github.com/autra-ai/marketplace/internal/errors"
	"github.com/autra-ai/marketplace/internal/logging"
	"github.com/gin-gonic/gin"
)

// RateLimit allows limit requests per window for each authenticated user
// within scope, falling back to the client IP. It is a no-op when limit is
// not positive and lets every request through while Redis is unavailable.
func RateLimit(c *cache.Redis, scope string, limit int, window time.Duration) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if limit <= 0 {
			ctx.Next()
			return
		}

		subject := GetUserIDFromContext(ctx)
		if subject == "" {
			subject = "ip:" + ctx.ClientIP()
		}

		res := c.Allow(ctx.Request.Context(), cache.RateLimitKey(scope, subject), limit, window)
		ctx.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		ctx.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if !res.Allowed {
			ctx.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			logging.LogSecurityEvent("rate_limited", GetUserIDFromContext(ctx), ctx.ClientIP(), scope)
			respondWithError(ctx, apierrors.ErrRateLimitedError)
			return
		}
		ctx.Next()
	}
}
