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

// IntentRepo implements ports.PaymentIntentRepository, enforcing the same
// unique matched tx hash and version check as the SQL schema.
type IntentRepo struct {
	s *Store
}

func (r *IntentRepo) Create(_ context.Context, tx pgx.Tx, i *domain.PaymentIntent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if err := r.checkTxHash(i); err != nil {
		return fmt.Errorf("insert payment intent: %w", err)
	}
	return put(r.s.intents, tx, i.ID, *i)
}

func (r *IntentRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if i, ok := r.s.intents[id]; ok {
		return &i, nil
	}
	return nil, nil
}

func (r *IntentRepo) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*domain.PaymentIntent, error) {
	return r.GetByID(ctx, id)
}

func (r *IntentRepo) GetByTxHash(_ context.Context, txHash string) (*domain.PaymentIntent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, i := range r.s.intents {
		if i.MatchedTxHash != nil && *i.MatchedTxHash == txHash {
			return &i, nil
		}
	}
	return nil, nil
}

func (r *IntentRepo) ListOpenByDestination(_ context.Context, address, currency string, now time.Time) ([]domain.PaymentIntent, error) {
	out := r.filter(func(i domain.PaymentIntent) bool {
		return i.DestinationAddress == address && i.Currency == currency && i.IsOpen(now)
	})
	slices.SortFunc(out, byCreated)
	return out, nil
}

func (r *IntentRepo) ListAwaiting(_ context.Context, limit int) ([]domain.PaymentIntent, error) {
	out := r.filter(func(i domain.PaymentIntent) bool {
		return i.Status == domain.IntentStatusAwaitingConfirmation
	})
	slices.SortFunc(out, byMatchedBlock)
	return head(out, limit), nil
}

func (r *IntentRepo) ListMatchedFromBlock(_ context.Context, block uint64) ([]domain.PaymentIntent, error) {
	out := r.filter(func(i domain.PaymentIntent) bool {
		return i.MatchedTxHash != nil && i.MatchedBlockNumber != nil && *i.MatchedBlockNumber >= block
	})
	slices.SortFunc(out, byMatchedBlock)
	return out, nil
}

func (r *IntentRepo) ListExpirable(_ context.Context, _ pgx.Tx, now, awaitingBefore time.Time, limit int) ([]domain.PaymentIntent, error) {
	out := r.filter(func(i domain.PaymentIntent) bool {
		switch i.Status {
		case domain.IntentStatusCreated:
			return !i.ExpiresAt.After(now)
		case domain.IntentStatusAwaitingConfirmation:
			return !i.ExpiresAt.After(awaitingBefore)
		}
		return false
	})
	slices.SortFunc(out, func(a, b domain.PaymentIntent) int {
		if c := a.ExpiresAt.Compare(b.ExpiresAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return head(out, limit), nil
}

func (r *IntentRepo) Update(_ context.Context, tx pgx.Tx, i *domain.PaymentIntent, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.intents[i.ID]
	if !ok || stored.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	if err := r.checkTxHash(i); err != nil {
		return fmt.Errorf("update payment intent: %w", err)
	}

	next := *i
	next.Version = expectedVersion + 1
	if err := put(r.s.intents, tx, i.ID, next); err != nil {
		return err
	}
	i.Version = next.Version
	return nil
}

func (r *IntentRepo) List(_ context.Context, params domain.IntentListParams) ([]domain.PaymentIntent, int64, error) {
	out := r.filter(func(i domain.PaymentIntent) bool {
		return i.MerchantID == params.MerchantID && (params.Status == nil || i.Status == *params.Status)
	})
	slices.SortFunc(out, func(a, b domain.PaymentIntent) int { return byCreated(b, a) })

	total := int64(len(out))
	offset := min(params.Offset(), len(out))
	return head(out[offset:], params.PageSize), total, nil
}

func (r *IntentRepo) CountByStatus(_ context.Context, merchantID uuid.UUID, since *time.Time) (map[domain.IntentStatus]int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	counts := make(map[domain.IntentStatus]int64)
	for _, i := range r.s.intents {
		if i.MerchantID != merchantID || (since != nil && i.CreatedAt.Before(*since)) {
			continue
		}
		counts[i.Status]++
	}
	return counts, nil
}

// checkTxHash rejects a matched hash already held by another intent. Callers hold s.mu.
func (r *IntentRepo) checkTxHash(i *domain.PaymentIntent) error {
	if i.MatchedTxHash == nil {
		return nil
	}
	for id, other := range r.s.intents {
		if id != i.ID && other.MatchedTxHash != nil && *other.MatchedTxHash == *i.MatchedTxHash {
			return domain.ErrTxHashClaimed
		}
	}
	return nil
}

func (r *IntentRepo) filter(keep func(domain.PaymentIntent) bool) []domain.PaymentIntent {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.PaymentIntent
	for _, i := range r.s.intents {
		if keep(i) {
			out = append(out, i)
		}
	}
	return out
}

func byCreated(a, b domain.PaymentIntent) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID.String(), b.ID.String())
}

func byMatchedBlock(a, b domain.PaymentIntent) int {
	var ab, bb uint64
	if a.MatchedBlockNumber != nil {
		ab = *a.MatchedBlockNumber
	}
	if b.MatchedBlockNumber != nil {
		bb = *b.MatchedBlockNumber
	}
	if c := cmp.Compare(ab, bb); c != 0 {
		return c
	}
	return cmp.Compare(a.ID.String(), b.ID.String())
}

func head[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
