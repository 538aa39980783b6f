package handler

import (
	"crypto-payment-gateway/internal/adapter/http/middleware"
	redisStore "crypto-payment-gateway/internal/adapter/storage/redis"
	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxRequestBody = 1 << 20 // 1 MB

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc        ports.AuthService
	MerchantSvc    ports.MerchantService
	IntentSvc      ports.PaymentIntentService
	ReportingSvc   ports.ReportingService
	TokenSvc       ports.TokenService
	AuditSvc       ports.AuditService          // nil = audit logging disabled
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Metrics        *metrics.Registry // nil = no /metrics endpoint
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxRequestBody))
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	// Deep health check: PostgreSQL, Redis and the chain RPC
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rules := middleware.DefaultRateLimitRules()

	// rl returns the group's limiter, or a no-op when Redis is not configured.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Public routes ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	v1.POST("/merchants", rl("onboard"), authHandler.Onboard)
	v1.POST("/auth/login", rl("auth_login"), authHandler.Login)

	// --- API-key routes (merchant backend) ---
	apiKeyAuth := middleware.APIKeyAuth(deps.MerchantSvc, deps.Logger)
	intentHandler := NewIntentHandler(deps.IntentSvc)
	intents := v1.Group("/intents", apiKeyAuth)
	{
		intents.POST("", rl("intents_create"), intentHandler.Create)
		intents.GET("", rl("intents"), intentHandler.List)
		intents.GET("/:id", rl("intents"), intentHandler.Get)
		intents.POST("/:id/cancel", rl("intents"), intentHandler.Cancel)
	}

	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)

	// --- Merchant dashboard (merchant JWT) ---
	merchantHandler := NewMerchantHandler(deps.MerchantSvc, deps.ReportingSvc)
	me := v1.Group("/merchants/me", jwtAuth, middleware.RequireRole(ports.RoleMerchant), rl("merchant"))
	{
		me.GET("", merchantHandler.GetProfile)
		me.PUT("/wallet", merchantHandler.UpdateWallet)
		me.PUT("/webhook", merchantHandler.UpdateWebhookURL)
		me.POST("/rotate-api-key", merchantHandler.RotateAPIKey)
		me.POST("/rotate-signing-secret", merchantHandler.RotateSigningSecret)
		me.GET("/signing-secrets", merchantHandler.ListSigningSecrets)
		me.GET("/deliveries", merchantHandler.ListDeliveries)
		me.GET("/stats", merchantHandler.GetStats)
	}

	// --- Operator routes (operator JWT) ---
	adminHandler := NewAdminHandler(deps.MerchantSvc, deps.IntentSvc, deps.ReportingSvc)
	admin := v1.Group("/admin", jwtAuth, middleware.RequireRole(ports.RoleOperator), rl("admin"))
	{
		admin.POST("/merchants/:id/activate", adminHandler.SetMerchantStatus(domain.MerchantStatusActive))
		admin.POST("/merchants/:id/suspend", adminHandler.SetMerchantStatus(domain.MerchantStatusSuspended))
		admin.POST("/merchants/:id/close", adminHandler.SetMerchantStatus(domain.MerchantStatusClosed))
		admin.POST("/merchants/:id/verify-email", adminHandler.VerifyEmail)
		admin.POST("/intents/:id/cancel", adminHandler.CancelIntent)
		admin.GET("/deliveries/exhausted", adminHandler.ListExhaustedDeliveries)
	}

	return r
}
