package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const deliveryColumns = `id, payment_intent_id, merchant_id, sequence, event_type, payload, payload_hash,
		signing_secret_version, attempt_count, next_attempt_at, status, last_response_code, last_error,
		locked_until, delivered_at, created_at, updated_at`

// DeliveryRepo implements ports.WebhookDeliveryRepository on the webhook_deliveries outbox table.
// sequence is a bigserial; deliveries of one intent are sent in sequence order.
type DeliveryRepo struct {
	pool Pool
}

// NewDeliveryRepo creates a new DeliveryRepo.
func NewDeliveryRepo(pool Pool) *DeliveryRepo {
	return &DeliveryRepo{pool: pool}
}

// Create inserts a delivery in the same transaction as the state change that produced it.
func (r *DeliveryRepo) Create(ctx context.Context, tx pgx.Tx, d *domain.WebhookDelivery) error {
	query := `INSERT INTO webhook_deliveries (id, payment_intent_id, merchant_id, event_type, payload, payload_hash,
			signing_secret_version, attempt_count, next_attempt_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING sequence`

	err := tx.QueryRow(ctx, query,
		d.ID, d.PaymentIntentID, d.MerchantID, d.EventType, d.Payload, d.PayloadHash,
		d.SigningSecretVersion, d.AttemptCount, d.NextAttemptAt, d.Status, d.CreatedAt, d.UpdatedAt,
	).Scan(&d.Sequence)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

// GetByID fetches a delivery by UUID.
func (r *DeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`

	d, err := scanDelivery(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook delivery: %w", err)
	}
	return d, nil
}

// ClaimDue leases up to limit due deliveries until now+lease. A delivery is
// skipped while an earlier PENDING delivery of the same intent exists, leased or not.
func (r *DeliveryRepo) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]domain.WebhookDelivery, error) {
	query := `UPDATE webhook_deliveries SET locked_until = $2, updated_at = $1
		WHERE id IN (
			SELECT d.id FROM webhook_deliveries d
			WHERE d.status = $3 AND d.next_attempt_at <= $1
				AND (d.locked_until IS NULL OR d.locked_until <= $1)
				AND NOT EXISTS (
					SELECT 1 FROM webhook_deliveries e
					WHERE e.payment_intent_id = d.payment_intent_id AND e.status = $3 AND e.sequence < d.sequence
				)
			ORDER BY d.next_attempt_at, d.sequence
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + deliveryColumns

	return r.list(ctx, "claim due deliveries", query, now, now.Add(lease), domain.DeliveryStatusPending, limit)
}

// Release drops a lease without recording an attempt.
func (r *DeliveryRepo) Release(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE webhook_deliveries SET locked_until = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("release webhook delivery: %w", err)
	}
	return nil
}

// RecordAttempt stores an attempt outcome. Results whose attempt count does not
// exceed the stored one are stale and leave the row untouched.
func (r *DeliveryRepo) RecordAttempt(ctx context.Context, res domain.AttemptResult) error {
	query := `UPDATE webhook_deliveries
		SET status=$1, attempt_count=$2, next_attempt_at=$3, last_response_code=$4, last_error=$5,
			delivered_at=$6, locked_until=NULL, updated_at=NOW()
		WHERE id=$7 AND attempt_count < $2`

	_, err := r.pool.Exec(ctx, query,
		res.Status, res.AttemptCount, res.NextAttemptAt, res.ResponseCode, res.Error, res.DeliveredAt, res.DeliveryID,
	)
	if err != nil {
		return fmt.Errorf("record delivery attempt: %w", err)
	}
	return nil
}

// ListByMerchant returns a merchant's deliveries, newest first.
func (r *DeliveryRepo) ListByMerchant(ctx context.Context, merchantID uuid.UUID, limit, offset int) ([]domain.WebhookDelivery, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_deliveries WHERE merchant_id = $1`, merchantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count webhook deliveries: %w", err)
	}

	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE merchant_id = $1
		ORDER BY created_at DESC, sequence DESC LIMIT $2 OFFSET $3`
	deliveries, err := r.list(ctx, "list merchant deliveries", query, merchantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return deliveries, total, nil
}

// ListByIntent returns an intent's deliveries in sequence order.
func (r *DeliveryRepo) ListByIntent(ctx context.Context, intentID uuid.UUID) ([]domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE payment_intent_id = $1 ORDER BY sequence`
	return r.list(ctx, "list intent deliveries", query, intentID)
}

// ListExhausted returns deliveries that gave up, most recent first.
func (r *DeliveryRepo) ListExhausted(ctx context.Context, limit, offset int) ([]domain.WebhookDelivery, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_deliveries WHERE status = $1`,
		domain.DeliveryStatusExhausted).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count exhausted deliveries: %w", err)
	}

	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE status = $1
		ORDER BY updated_at DESC, sequence DESC LIMIT $2 OFFSET $3`
	deliveries, err := r.list(ctx, "list exhausted deliveries", query, domain.DeliveryStatusExhausted, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return deliveries, total, nil
}

func (r *DeliveryRepo) list(ctx context.Context, op, query string, args ...any) ([]domain.WebhookDelivery, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var deliveries []domain.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, err)
		}
		deliveries = append(deliveries, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate rows: %w", op, err)
	}
	return deliveries, nil
}

func scanDelivery(row pgx.Row) (*domain.WebhookDelivery, error) {
	d := &domain.WebhookDelivery{}
	err := row.Scan(
		&d.ID, &d.PaymentIntentID, &d.MerchantID, &d.Sequence, &d.EventType, &d.Payload, &d.PayloadHash,
		&d.SigningSecretVersion, &d.AttemptCount, &d.NextAttemptAt, &d.Status, &d.LastResponseCode, &d.LastError,
		&d.LockedUntil, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}
