package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"
	"time"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MerchantRepository defines persistence operations for merchants.
// Getters return (nil, nil) when no row matches.
type MerchantRepository interface {
	Create(ctx context.Context, tx pgx.Tx, merchant *domain.Merchant) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Merchant, error)
	GetByEmail(ctx context.Context, email string) (*domain.Merchant, error)
	GetByAPIKeyPrefix(ctx context.Context, prefix string) (*domain.Merchant, error)
	// ListActiveWallets returns the distinct wallet addresses of ACTIVE merchants.
	ListActiveWallets(ctx context.Context) ([]string, error)
	Update(ctx context.Context, tx pgx.Tx, merchant *domain.Merchant) error
}

// PaymentIntentRepository defines persistence operations for payment intents.
// Methods accepting pgx.Tx are used inside transaction blocks for row locking.
type PaymentIntentRepository interface {
	Create(ctx context.Context, tx pgx.Tx, intent *domain.PaymentIntent) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentIntent, error)
	GetByTxHash(ctx context.Context, txHash string) (*domain.PaymentIntent, error)
	// ListOpenByDestination returns unexpired CREATED intents, oldest first.
	ListOpenByDestination(ctx context.Context, address, currency string, now time.Time) ([]domain.PaymentIntent, error)
	ListAwaiting(ctx context.Context, limit int) ([]domain.PaymentIntent, error)
	// ListMatchedFromBlock returns intents whose match sits at or above block.
	ListMatchedFromBlock(ctx context.Context, block uint64) ([]domain.PaymentIntent, error)
	// ListExpirable locks (SKIP LOCKED) CREATED intents past now and
	// AWAITING_CONFIRMATION intents past awaitingBefore.
	ListExpirable(ctx context.Context, tx pgx.Tx, now, awaitingBefore time.Time, limit int) ([]domain.PaymentIntent, error)
	// Update writes intent if its stored version equals expectedVersion and bumps it.
	// Returns domain.ErrVersionConflict or domain.ErrTxHashClaimed.
	Update(ctx context.Context, tx pgx.Tx, intent *domain.PaymentIntent, expectedVersion int64) error
	List(ctx context.Context, params domain.IntentListParams) ([]domain.PaymentIntent, int64, error)
	CountByStatus(ctx context.Context, merchantID uuid.UUID, since *time.Time) (map[domain.IntentStatus]int64, error)
}

// WebhookDeliveryRepository is the durable outbox for webhook events.
type WebhookDeliveryRepository interface {
	// Create inserts a delivery and assigns its sequence.
	Create(ctx context.Context, tx pgx.Tx, delivery *domain.WebhookDelivery) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error)
	// ClaimDue leases due PENDING deliveries that have no earlier PENDING sibling for the same intent.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.WebhookDelivery, error)
	Release(ctx context.Context, id uuid.UUID) error
	// RecordAttempt persists an attempt outcome and clears the lease.
	// Stale results (attempt count not greater than stored) are ignored.
	RecordAttempt(ctx context.Context, result domain.AttemptResult) error
	ListByMerchant(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]domain.WebhookDelivery, int64, error)
	ListByIntent(ctx context.Context, intentID uuid.UUID) ([]domain.WebhookDelivery, error)
	ListExhausted(ctx context.Context, limit, offset int) ([]domain.WebhookDelivery, int64, error)
}

// SigningSecretRepository stores versioned, encrypted webhook secrets.
type SigningSecretRepository interface {
	Create(ctx context.Context, tx pgx.Tx, secret *domain.SigningSecret) error
	Get(ctx context.Context, merchantID uuid.UUID, version int) (*domain.SigningSecret, error)
	ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]domain.SigningSecret, error)
	Retire(ctx context.Context, tx pgx.Tx, merchantID uuid.UUID, version int, at time.Time) error
}

// BlockRepository records canonical blocks processed by the watcher.
type BlockRepository interface {
	Latest(ctx context.Context) (*domain.BlockRef, error)
	GetByNumber(ctx context.Context, number uint64) (*domain.BlockRef, error)
	Save(ctx context.Context, refs []domain.BlockRef) error
	// DeleteFrom removes refs at or above number.
	DeleteFrom(ctx context.Context, number uint64) error
	// PruneBelow removes refs strictly below number.
	PruneBelow(ctx context.Context, number uint64) error
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
