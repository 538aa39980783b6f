package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SecretRepo implements ports.SigningSecretRepository.
type SecretRepo struct {
	s *Store
}

func (r *SecretRepo) Create(_ context.Context, tx pgx.Tx, secret *domain.SigningSecret) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := secretKey{secret.MerchantID, secret.Version}
	if _, ok := r.s.secrets[key]; ok {
		return fmt.Errorf("insert signing secret: version %d already exists", secret.Version)
	}
	return put(r.s.secrets, tx, key, *secret)
}

func (r *SecretRepo) Get(_ context.Context, merchantID uuid.UUID, version int) (*domain.SigningSecret, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if secret, ok := r.s.secrets[secretKey{merchantID, version}]; ok {
		return &secret, nil
	}
	return nil, nil
}

func (r *SecretRepo) ListByMerchant(_ context.Context, merchantID uuid.UUID) ([]domain.SigningSecret, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.SigningSecret
	for key, secret := range r.s.secrets {
		if key.merchantID == merchantID {
			out = append(out, secret)
		}
	}
	slices.SortFunc(out, func(a, b domain.SigningSecret) int { return cmp.Compare(b.Version, a.Version) })
	return out, nil
}

func (r *SecretRepo) Retire(_ context.Context, tx pgx.Tx, merchantID uuid.UUID, version int, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := secretKey{merchantID, version}
	secret, ok := r.s.secrets[key]
	if !ok || secret.RetiredAt != nil {
		return nil
	}
	secret.RetiredAt = &at
	return put(r.s.secrets, tx, key, secret)
}
