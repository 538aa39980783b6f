package main

import (
	"context"
	"fmt"

	"crypto-payment-gateway/config"
	"crypto-payment-gateway/internal/adapter/storage/memory"
	pgStorage "crypto-payment-gateway/internal/adapter/storage/postgres"
	"crypto-payment-gateway/internal/core/ports"

	"github.com/rs/zerolog"
)

// repositories is the persistence backend selected by storage.driver.
type repositories struct {
	merchants   ports.MerchantRepository
	intents     ports.PaymentIntentRepository
	deliveries  ports.WebhookDeliveryRepository
	secrets     ports.SigningSecretRepository
	blocks      ports.BlockRepository
	idempotency ports.IdempotencyRepository
	audit       ports.AuditRepository
	transactor  ports.DBTransactor
	health      []ports.HealthChecker
	close       func()
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*repositories, error) {
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn().Msg("Using in-memory storage, state is lost on restart")
		store := memory.New()
		return &repositories{
			merchants:   store.Merchants(),
			intents:     store.Intents(),
			deliveries:  store.Deliveries(),
			secrets:     store.Secrets(),
			blocks:      store.Blocks(),
			idempotency: store.Idempotency(),
			audit:       store.Audit(),
			transactor:  store,
			close:       func() {},
		}, nil
	case "postgres":
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		log.Info().Msg("PostgreSQL connected")
		return &repositories{
			merchants:   pgStorage.NewMerchantRepo(pool),
			intents:     pgStorage.NewIntentRepo(pool),
			deliveries:  pgStorage.NewDeliveryRepo(pool),
			secrets:     pgStorage.NewSecretRepo(pool),
			blocks:      pgStorage.NewBlockRepo(pool),
			idempotency: pgStorage.NewIdempotencyRepo(pool),
			audit:       pgStorage.NewAuditRepo(pool),
			transactor:  pgStorage.NewTransactor(pool),
			health:      []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
			close:       pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
