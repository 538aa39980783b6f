package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DeliveryRepo implements ports.WebhookDeliveryRepository.
type DeliveryRepo struct {
	s *Store
}

func (r *DeliveryRepo) Create(_ context.Context, tx pgx.Tx, d *domain.WebhookDelivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	// Sequence values are not reused after a rollback, like a bigserial.
	r.s.sequence++
	d.Sequence = r.s.sequence
	return put(r.s.deliveries, tx, d.ID, *d)
}

func (r *DeliveryRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.WebhookDelivery, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if d, ok := r.s.deliveries[id]; ok {
		return &d, nil
	}
	return nil, nil
}

func (r *DeliveryRepo) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration) ([]domain.WebhookDelivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	// Earliest pending sequence per intent; later siblings wait behind it.
	first := make(map[uuid.UUID]int64)
	for _, d := range r.s.deliveries {
		if d.Status != domain.DeliveryStatusPending {
			continue
		}
		if seq, ok := first[d.PaymentIntentID]; !ok || d.Sequence < seq {
			first[d.PaymentIntentID] = d.Sequence
		}
	}

	var due []domain.WebhookDelivery
	for _, d := range r.s.deliveries {
		if d.Status != domain.DeliveryStatusPending || d.NextAttemptAt.After(now) {
			continue
		}
		if d.LockedUntil != nil && d.LockedUntil.After(now) {
			continue
		}
		if first[d.PaymentIntentID] != d.Sequence {
			continue
		}
		due = append(due, d)
	}
	slices.SortFunc(due, func(a, b domain.WebhookDelivery) int {
		if c := a.NextAttemptAt.Compare(b.NextAttemptAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	due = head(due, limit)

	lockedUntil := now.Add(lease)
	for i := range due {
		due[i].LockedUntil = &lockedUntil
		due[i].UpdatedAt = now
		r.s.deliveries[due[i].ID] = due[i]
	}
	return due, nil
}

func (r *DeliveryRepo) Release(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if d, ok := r.s.deliveries[id]; ok {
		d.LockedUntil = nil
		r.s.deliveries[id] = d
	}
	return nil
}

func (r *DeliveryRepo) RecordAttempt(_ context.Context, res domain.AttemptResult) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.deliveries[res.DeliveryID]
	if !ok || res.AttemptCount <= d.AttemptCount {
		return nil
	}
	d.Status = res.Status
	d.AttemptCount = res.AttemptCount
	d.NextAttemptAt = res.NextAttemptAt
	d.LastResponseCode = res.ResponseCode
	d.LastError = res.Error
	d.DeliveredAt = res.DeliveredAt
	d.LockedUntil = nil
	d.UpdatedAt = time.Now().UTC()
	r.s.deliveries[d.ID] = d
	return nil
}

func (r *DeliveryRepo) ListByMerchant(_ context.Context, merchantID uuid.UUID, limit, offset int) ([]domain.WebhookDelivery, int64, error) {
	out := r.filter(func(d domain.WebhookDelivery) bool { return d.MerchantID == merchantID })
	slices.SortFunc(out, func(a, b domain.WebhookDelivery) int { return cmp.Compare(b.Sequence, a.Sequence) })
	return page(out, limit, offset), int64(len(out)), nil
}

func (r *DeliveryRepo) ListByIntent(_ context.Context, intentID uuid.UUID) ([]domain.WebhookDelivery, error) {
	out := r.filter(func(d domain.WebhookDelivery) bool { return d.PaymentIntentID == intentID })
	slices.SortFunc(out, func(a, b domain.WebhookDelivery) int { return cmp.Compare(a.Sequence, b.Sequence) })
	return out, nil
}

func (r *DeliveryRepo) ListExhausted(_ context.Context, limit, offset int) ([]domain.WebhookDelivery, int64, error) {
	out := r.filter(func(d domain.WebhookDelivery) bool { return d.Status == domain.DeliveryStatusExhausted })
	slices.SortFunc(out, func(a, b domain.WebhookDelivery) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.Sequence, a.Sequence)
	})
	return page(out, limit, offset), int64(len(out)), nil
}

func (r *DeliveryRepo) filter(keep func(domain.WebhookDelivery) bool) []domain.WebhookDelivery {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []domain.WebhookDelivery
	for _, d := range r.s.deliveries {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

func page[T any](s []T, limit, offset int) []T {
	return head(s[min(max(offset, 0), len(s)):], limit)
}
