package memory

import (
	"context"
	"fmt"
	"slices"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MerchantRepo implements ports.MerchantRepository. Email is unique.
type MerchantRepo struct {
	s *Store
}

func (r *MerchantRepo) Create(_ context.Context, tx pgx.Tx, m *domain.Merchant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.merchants {
		if existing.Email == m.Email {
			return fmt.Errorf("insert merchant: %w", domain.ErrEmailTaken)
		}
	}
	return put(r.s.merchants, tx, m.ID, *m)
}

func (r *MerchantRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Merchant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if m, ok := r.s.merchants[id]; ok {
		return &m, nil
	}
	return nil, nil
}

// GetByIDForUpdate needs no row lock: the transaction already excludes writers.
func (r *MerchantRepo) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Merchant, error) {
	return r.GetByID(ctx, id)
}

func (r *MerchantRepo) GetByEmail(_ context.Context, email string) (*domain.Merchant, error) {
	return r.find(func(m domain.Merchant) bool { return m.Email == email })
}

func (r *MerchantRepo) GetByAPIKeyPrefix(_ context.Context, prefix string) (*domain.Merchant, error) {
	return r.find(func(m domain.Merchant) bool { return m.APIKeyPrefix == prefix })
}

func (r *MerchantRepo) ListActiveWallets(_ context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var wallets []string
	for _, m := range r.s.merchants {
		if m.Status != domain.MerchantStatusActive || m.WalletAddress == nil {
			continue
		}
		if !slices.Contains(wallets, *m.WalletAddress) {
			wallets = append(wallets, *m.WalletAddress)
		}
	}
	slices.Sort(wallets)
	return wallets, nil
}

func (r *MerchantRepo) Update(_ context.Context, tx pgx.Tx, m *domain.Merchant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.merchants[m.ID]; !ok {
		return fmt.Errorf("merchant not found: %s", m.ID)
	}
	return put(r.s.merchants, tx, m.ID, *m)
}

func (r *MerchantRepo) find(match func(domain.Merchant) bool) (*domain.Merchant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, m := range r.s.merchants {
		if match(m) {
			return &m, nil
		}
	}
	return nil, nil
}
