package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinsub-commerce-bridge/config"
	"coinsub-commerce-bridge/internal/adapter/coinsub"
	httpHandler "coinsub-commerce-bridge/internal/adapter/http/handler"
	pgStorage "coinsub-commerce-bridge/internal/adapter/storage/postgres"
	redisStorage "coinsub-commerce-bridge/internal/adapter/storage/redis"
	"coinsub-commerce-bridge/internal/core/ports"
	"coinsub-commerce-bridge/internal/service"
	"coinsub-commerce-bridge/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting CoinSub Commerce Bridge")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	orderRepo := pgStorage.NewOrderRepo(pool)
	customerRepo := pgStorage.NewCustomerRepo(pool)
	eventLogRepo := pgStorage.NewEventLogRepo(pool)

	// Initialize Redis stores
	dedupeStore := redisStorage.NewDedupeStore(rdb)
	sessionStore := redisStorage.NewSessionStore(rdb)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize outbound provider client
	providerClient := coinsub.NewClient(coinsub.Config{
		BaseURL:    cfg.CoinSub.APIURL,
		MerchantID: cfg.CoinSub.MerchantID,
		APIKey:     cfg.CoinSub.APIKey,
		Timeout:    cfg.CoinSub.Timeout,
	}, log)

	// Initialize core services
	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Initialize business services
	authSvc := service.NewAuthService(cfg.Ops.Username, cfg.Ops.PasswordHash, hashSvc, tokenSvc)
	recorderSvc := service.NewEventRecorder(eventLogRepo, log)
	processorSvc := service.NewWebhookProcessor(orderRepo, customerRepo, dedupeStore, sessionStore, recorderSvc, log)
	checkoutSvc := service.NewCheckoutService(orderRepo, sessionStore, providerClient, cfg.CoinSub.MerchantID, log)
	subscriptionSvc := service.NewSubscriptionService(orderRepo, providerClient, log)
	opsSvc := service.NewOpsService(orderRepo, eventLogRepo, providerClient, log)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Load OpenAPI spec for Swagger UI
	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI spec loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		ProcessorSvc:     processorSvc,
		RecorderSvc:      recorderSvc,
		CheckoutSvc:      checkoutSvc,
		SubscriptionSvc:  subscriptionSvc,
		AuthSvc:          authSvc,
		OpsSvc:           opsSvc,
		TokenSvc:         tokenSvc,
		SigSvc:           sigSvc,
		WebhookSecret:    cfg.CoinSub.WebhookSecret,
		EnforceSignature: cfg.CoinSub.EnforceSignature,
		RateLimitStore:   rateLimitStore,
		HealthCheckers:   []ports.HealthChecker{pgHealth, redisHealth},
		Logger:           log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
