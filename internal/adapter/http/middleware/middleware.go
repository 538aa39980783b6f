package middleware

import (
	"net/http"
	"strings"
	"time"

	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/internal/metrics"
	"crypto-payment-gateway/pkg/apperror"
	"crypto-payment-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	HeaderAPIKey    = "X-API-Key"
	HeaderRequestID = "X-Request-ID"

	// Context keys
	CtxRequestID   = "request_id"
	CtxMerchantID  = "merchant_id"
	CtxMerchantKey = "merchant"
	CtxOperatorID  = "operator_id"
	CtxRole        = "role"
)

// APIKeyAuth resolves the X-API-Key header to an active merchant.
func APIKeyAuth(merchantSvc ports.MerchantService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(HeaderAPIKey)
		if apiKey == "" {
			response.Error(c, apperror.ErrUnauthorized())
			c.Abort()
			return
		}

		merchant, err := merchantSvc.Authenticate(c.Request.Context(), apiKey)
		if err != nil {
			if !apperror.HasCode(err, apperror.ErrUnauthorized().Code) {
				log.Warn().Err(err).Str("client_ip", c.ClientIP()).Msg("api key authentication failed")
			}
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(CtxMerchantID, merchant.ID)
		c.Set(CtxMerchantKey, merchant)
		c.Set(CtxRole, ports.RoleMerchant)
		c.Next()
	}
}

// JWTAuth validates bearer tokens for dashboard and operator routes.
func JWTAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenStr == "" {
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}

		claims, err := tokenSvc.Validate(tokenStr)
		if err != nil {
			log.Debug().Err(err).Msg("jwt rejected")
			response.Error(c, apperror.ErrInvalidToken())
			c.Abort()
			return
		}

		if claims.Role == ports.RoleOperator {
			c.Set(CtxOperatorID, claims.Subject)
		} else {
			c.Set(CtxMerchantID, claims.Subject)
		}
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}

// RequireRole rejects requests whose authenticated role is not role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(CtxRole) != role {
			response.Error(c, apperror.ErrForbidden())
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(CtxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		event.
			Str("request_id", c.GetString(CtxRequestID)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Metrics counts requests by route template so ids do not explode cardinality.
func Metrics(m *metrics.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.IncHTTPRequest(c.Request.Method, route, c.Writer.Status())
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				response.Error(c, apperror.InternalError(nil))
				c.Abort()
			}
		}()
		c.Next()
	}
}
