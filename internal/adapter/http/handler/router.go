package handler

import (
	"coinsub-commerce-bridge/internal/adapter/http/middleware"
	redisStore "coinsub-commerce-bridge/internal/adapter/storage/redis"
	"coinsub-commerce-bridge/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	ProcessorSvc     ports.WebhookProcessor
	RecorderSvc      ports.EventRecorder
	CheckoutSvc      ports.CheckoutService
	SubscriptionSvc  ports.SubscriptionService
	AuthSvc          ports.AuthService
	OpsSvc           ports.OpsService
	TokenSvc         ports.TokenService
	SigSvc           ports.SignatureService
	WebhookSecret    string
	EnforceSignature bool
	RateLimitStore   *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers   []ports.HealthChecker
	Logger           zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Swagger documentation
	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
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

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Provider-facing webhook (authenticated by shared secret + HMAC) ---
	webhookHandler := NewWebhookHandler(
		deps.ProcessorSvc,
		deps.RecorderSvc,
		deps.SigSvc,
		deps.WebhookSecret,
		deps.EnforceSignature,
		deps.Logger,
	)
	v1.POST("/webhook", rl("webhook"), webhookHandler.Receive)

	// --- Storefront-facing checkout routes ---
	checkoutHandler := NewCheckoutHandler(deps.CheckoutSvc)
	checkout := v1.Group("/checkout")
	{
		checkout.POST("/sessions", rl("checkout"), checkoutHandler.CreateSession)
		checkout.GET("/orders/:id/status", rl("status"), checkoutHandler.PaymentStatus)
	}

	subscriptionHandler := NewSubscriptionHandler(deps.SubscriptionSvc)
	subscriptions := v1.Group("/subscriptions")
	{
		subscriptions.POST("/:order_id/cancel", rl("checkout"), subscriptionHandler.Cancel)
		subscriptions.GET("/:order_id/next-payment", rl("status"), subscriptionHandler.NextPayment)
	}

	// --- Operator routes (JWT-authenticated past login) ---
	opsHandler := NewOpsHandler(deps.AuthSvc, deps.OpsSvc)
	v1.POST("/ops/login", rl("ops_login"), opsHandler.Login)

	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	ops := v1.Group("/ops", jwtAuth, rl("ops"))
	{
		ops.GET("/orders", opsHandler.ListOrders)
		ops.GET("/orders/stats", opsHandler.Stats)
		ops.GET("/orders/:id", opsHandler.GetOrder)
		ops.POST("/orders/:id/refund", opsHandler.Refund)
		ops.GET("/webhook-events", opsHandler.ListWebhookEvents)
	}

	return r
}
