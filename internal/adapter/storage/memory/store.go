// Package memory is a process-local storage backend with the same semantics
// as the PostgreSQL adapter. It backs the "memory" storage driver and the
// end-to-end scenario tests; nothing survives a restart.
package memory

import (
	"context"
	"sync"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type secretKey struct {
	merchantID uuid.UUID
	version    int
}

// Store holds every table. Transactions are serialized by txMu and undone
// through an undo log on rollback; reads outside a transaction only take mu.
type Store struct {
	txMu sync.Mutex

	mu          sync.RWMutex
	merchants   map[uuid.UUID]domain.Merchant
	intents     map[uuid.UUID]domain.PaymentIntent
	deliveries  map[uuid.UUID]domain.WebhookDelivery
	secrets     map[secretKey]domain.SigningSecret
	blocks      map[uint64]domain.BlockRef
	idempotency map[string]domain.IdempotencyLog
	audit       []domain.AuditLog
	sequence    int64
}

func New() *Store {
	return &Store{
		merchants:   make(map[uuid.UUID]domain.Merchant),
		intents:     make(map[uuid.UUID]domain.PaymentIntent),
		deliveries:  make(map[uuid.UUID]domain.WebhookDelivery),
		secrets:     make(map[secretKey]domain.SigningSecret),
		blocks:      make(map[uint64]domain.BlockRef),
		idempotency: make(map[string]domain.IdempotencyLog),
	}
}

// Begin implements ports.DBTransactor. It blocks until no other transaction is open.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	return &tx{store: s}, nil
}

// tx satisfies pgx.Tx for the repository signatures; only Commit and
// Rollback are implemented.
type tx struct {
	pgx.Tx
	store *Store
	undo  []func()
	done  bool
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.undo = nil
	t.store.txMu.Unlock()
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true

	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()

	t.undo = nil
	t.store.txMu.Unlock()
	return nil
}

// record registers an undo step on a memory transaction. Callers hold s.mu.
func record(dbTx pgx.Tx, undo func()) error {
	t, ok := dbTx.(*tx)
	if !ok {
		return nil
	}
	if t.done {
		return pgx.ErrTxClosed
	}
	t.undo = append(t.undo, undo)
	return nil
}

// put stores v under k and registers the inverse write on dbTx. Callers hold s.mu.
func put[K comparable, V any](m map[K]V, dbTx pgx.Tx, k K, v V) error {
	prev, existed := m[k]
	err := record(dbTx, func() {
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	if err != nil {
		return err
	}
	m[k] = v
	return nil
}

func (s *Store) Merchants() *MerchantRepo { return &MerchantRepo{s: s} }

func (s *Store) Intents() *IntentRepo { return &IntentRepo{s: s} }

func (s *Store) Deliveries() *DeliveryRepo { return &DeliveryRepo{s: s} }

func (s *Store) Secrets() *SecretRepo { return &SecretRepo{s: s} }

func (s *Store) Blocks() *BlockRepo { return &BlockRepo{s: s} }

func (s *Store) Idempotency() *IdempotencyRepo { return &IdempotencyRepo{s: s} }

func (s *Store) Audit() *AuditRepo { return &AuditRepo{s: s} }
