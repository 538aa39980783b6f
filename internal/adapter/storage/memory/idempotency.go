package memory

import (
	"context"
	"fmt"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	s *Store
}

func (r *IdempotencyRepo) Create(_ context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.idempotency[log.Key]; ok {
		return fmt.Errorf("insert idempotency log: %w", domain.ErrIdempotencyKey)
	}
	return put(r.s.idempotency, tx, log.Key, *log)
}

func (r *IdempotencyRepo) Get(_ context.Context, key string) (*domain.IdempotencyLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if log, ok := r.s.idempotency[key]; ok {
		return &log, nil
	}
	return nil, nil
}
