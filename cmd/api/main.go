package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-payment-gateway/config"
	ethChain "crypto-payment-gateway/internal/adapter/chain/ethereum"
	httpHandler "crypto-payment-gateway/internal/adapter/http/handler"
	redisStorage "crypto-payment-gateway/internal/adapter/storage/redis"
	"crypto-payment-gateway/internal/clock"
	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/internal/metrics"
	"crypto-payment-gateway/internal/service"
	"crypto-payment-gateway/internal/worker"
	"crypto-payment-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to ./config.yaml)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Str("chain", cfg.Chain.Name).
		Msg("Starting Crypto Payment Gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real{}
	m := metrics.New()

	repos, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer repos.close()
	healthCheckers := repos.health

	// Redis is optional: without it idempotency falls back to the database,
	// rate limiting is off and every replica runs every background job.
	var (
		idempotencyCache ports.IdempotencyCache
		locker           ports.Locker
		rateLimitStore   *redisStorage.RateLimitStore
	)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		log.Info().Msg("Redis connected")

		idempotencyCache = redisStorage.NewIdempotencyCache(rdb)
		locker = redisStorage.NewLocker(rdb)
		rateLimitStore = redisStorage.NewRateLimitStore(rdb)
		healthCheckers = append(healthCheckers, redisStorage.NewHealthCheck(rdb))
	} else {
		log.Warn().Msg("Redis disabled: rate limiting and job leader election are off")
	}

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	vault, err := service.NewCredentialVault(cfg.Vault.APIKeyPepper, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize credential vault")
	}
	tolerance, err := cfg.Intent.ToleranceDecimal()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid intent tolerance")
	}
	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer, clk)

	// Initialize business services
	auditSvc := service.NewAuditService(repos.audit, clk, log)
	authSvc := service.NewAuthService(
		repos.merchants,
		repos.secrets,
		repos.transactor,
		vault,
		hashSvc,
		encSvc,
		tokenSvc,
		cfg.Registry.AutoActivate,
		clk,
		log,
	)
	merchantSvc := service.NewMerchantService(repos.merchants, repos.secrets, repos.transactor, vault, encSvc, clk, log)

	// Redirects are not followed so a merchant endpoint cannot bounce
	// signed payloads to another host.
	webhookClient := &http.Client{
		Timeout: cfg.Webhook.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	dispatcher := service.NewWebhookDispatcher(
		repos.deliveries,
		repos.merchants,
		repos.secrets,
		encSvc,
		sigSvc,
		auditSvc,
		webhookClient,
		service.DispatcherConfig{
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			BaseBackoff:    cfg.Webhook.BaseBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
			Timeout:        cfg.Webhook.Timeout,
			BatchSize:      cfg.Webhook.BatchSize,
			MaxConcurrent:  cfg.Webhook.MaxConcurrent,
			MaxPerMerchant: cfg.Webhook.MaxPerMerchant,
			ClaimLease:     cfg.Webhook.ClaimLease,
		},
		clk,
		m,
		logger.WithComponent(log, "webhook-dispatcher"),
	)
	intentSvc := service.NewPaymentIntentService(
		repos.intents,
		repos.merchants,
		repos.idempotency,
		idempotencyCache,
		dispatcher,
		repos.transactor,
		service.IntentConfig{
			Chain:                 cfg.Chain.Name,
			Currencies:            cfg.Chain.Currencies(),
			RequiredConfirmations: cfg.Chain.RequiredConfirmations,
			DefaultTTL:            cfg.Intent.DefaultTTL,
			MaxTTL:                cfg.Intent.MaxTTL,
			Tolerance:             tolerance,
			ReorgPolicy:           cfg.Intent.ReorgPolicy,
			AwaitingGrace:         cfg.Intent.AwaitingGrace,
		},
		clk,
		m,
		log,
	)
	reportingSvc := service.NewReportingService(repos.intents, repos.deliveries, clk)
	sweeper := service.NewSweeper(intentSvc, cfg.Sweeper.BatchSize, logger.WithComponent(log, "intent-sweeper"))

	jobs := []worker.Job{
		{
			Name:     "webhook-dispatcher",
			Interval: cfg.Webhook.PollInterval,
			Timeout:  cfg.Webhook.ClaimLease,
			Run:      dispatcher.DispatchDue,
		},
		{
			Name:     "intent-sweeper",
			Interval: cfg.Sweeper.Interval,
			LockTTL:  2 * cfg.Sweeper.Interval,
			Run:      sweeper.Sweep,
		},
	}

	// Chain watcher
	if cfg.Chain.RPCURL != "" {
		chainClient, err := ethChain.Dial(ctx, cfg.Chain.RPCURL, chainConfig(cfg.Chain))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to chain RPC")
		}
		defer chainClient.Close()
		log.Info().Str("chain", cfg.Chain.Name).Strs("currencies", cfg.Chain.Currencies()).Msg("Chain RPC connected")
		healthCheckers = append(healthCheckers, chainClient)

		watcher := service.NewWatcher(
			chainClient,
			repos.blocks,
			repos.intents,
			repos.merchants,
			intentSvc,
			service.WatcherConfig{
				RequiredConfirmations: cfg.Chain.RequiredConfirmations,
				StartBlock:            cfg.Chain.StartBlock,
				BatchSize:             cfg.Chain.BatchSize,
				ReorgDepth:            cfg.Chain.ReorgDepth,
				CallTimeout:           cfg.Chain.CallTimeout,
				MaxRetries:            cfg.Chain.MaxRetries,
				Tolerance:             tolerance,
			},
			clk,
			m,
			logger.WithComponent(log, "chain-watcher"),
		)
		jobs = append(jobs, worker.Job{
			Name:     "chain-watcher",
			Interval: cfg.Chain.PollInterval,
			LockTTL:  2 * cfg.Chain.PollInterval,
			Run:      watcher.Poll,
		})
	} else {
		log.Warn().Msg("chain.rpc_url not set: chain watcher disabled, intents will only expire")
	}

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:        authSvc,
		MerchantSvc:    merchantSvc,
		IntentSvc:      intentSvc,
		ReportingSvc:   reportingSvc,
		TokenSvc:       tokenSvc,
		AuditSvc:       auditSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: healthCheckers,
		Metrics:        m,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runner := worker.NewRunner(locker, m, logger.WithComponent(log, "worker"), jobs...)
	workersDone := make(chan error, 1)
	go func() {
		workersDone <- runner.Run(ctx)
	}()

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	select {
	case err := <-workersDone:
		if err != nil {
			log.Error().Err(err).Msg("Background jobs stopped with error")
		}
	case <-shutdownCtx.Done():
		log.Warn().Msg("Background jobs did not stop before shutdown deadline")
	}

	log.Info().Msg("Server exited")
}

func chainConfig(c config.ChainConfig) ethChain.Config {
	tokens := make([]ethChain.Token, 0, len(c.Tokens))
	for _, t := range c.Tokens {
		tokens = append(tokens, ethChain.Token{
			Currency: t.Currency,
			Contract: t.Contract,
			Decimals: t.Decimals,
		})
	}
	return ethChain.Config{
		NativeCurrency: c.NativeCurrency,
		NativeDecimals: c.NativeDecimals,
		Tokens:         tokens,
	}
}
