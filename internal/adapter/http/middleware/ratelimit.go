package middleware

import (
	"fmt"
	"strconv"
	"time"

	redisStore "crypto-payment-gateway/internal/adapter/storage/redis"
	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/pkg/apperror"
	"crypto-payment-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RateLimitRule defines a rate limit for an endpoint group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRateLimitRules returns the limits per endpoint group.
func DefaultRateLimitRules() map[string]RateLimitRule {
	return map[string]RateLimitRule{
		"intents":        {Limit: 300, Window: time.Minute},
		"intents_create": {Limit: 100, Window: time.Minute},
		"auth_login":     {Limit: 10, Window: time.Minute},
		"onboard":        {Limit: 5, Window: time.Hour},
		"merchant":       {Limit: 60, Window: time.Minute},
		"admin":          {Limit: 120, Window: time.Minute},
	}
}

// RateLimiter creates a rate-limiting middleware for a given endpoint group.
// Redis failures let the request through.
func RateLimiter(store *redisStore.RateLimitStore, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := extractIdentifier(c)
		key := fmt.Sprintf("%s:%s", identifier, group)

		result, err := store.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		// Always set rate limit headers
		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := max(result.ResetAt-time.Now().Unix(), 1)
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			response.Error(c, apperror.ErrRateLimitExceeded())
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractIdentifier determines the rate limit key source. Raw API keys are
// hashed so they never appear in Redis.
func extractIdentifier(c *gin.Context) string {
	if mid, exists := c.Get(CtxMerchantID); exists {
		return fmt.Sprintf("m:%v", mid)
	}
	if oid, exists := c.Get(CtxOperatorID); exists {
		return fmt.Sprintf("o:%v", oid)
	}
	if ak := c.GetHeader(HeaderAPIKey); ak != "" {
		return "k:" + domain.HashPayload([]byte(ak))[:32]
	}
	return "ip:" + c.ClientIP()
}
