package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const intentColumns = `id, merchant_id, expected_amount, currency, chain, destination_address, status,
		matched_tx_hash, matched_block_number, received_amount, confirmations, required_confirmations,
		failure_reason, version, created_at, updated_at, expires_at`

// IntentRepo implements ports.PaymentIntentRepository.
// matched_tx_hash carries a unique constraint; that constraint is the final
// guard against one transfer paying two intents.
type IntentRepo struct {
	pool Pool
}

// NewIntentRepo creates a new IntentRepo.
func NewIntentRepo(pool Pool) *IntentRepo {
	return &IntentRepo{pool: pool}
}

// Create inserts a new payment intent within a database transaction.
func (r *IntentRepo) Create(ctx context.Context, tx pgx.Tx, i *domain.PaymentIntent) error {
	query := `INSERT INTO payment_intents (` + intentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := tx.Exec(ctx, query,
		i.ID, i.MerchantID, i.ExpectedAmount, i.Currency, i.Chain, i.DestinationAddress, i.Status,
		i.MatchedTxHash, i.MatchedBlockNumber, i.ReceivedAmount, i.Confirmations, i.RequiredConfirmations,
		i.FailureReason, i.Version, i.CreatedAt, i.UpdatedAt, i.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment intent: %w", mapUniqueViolation(err))
	}
	return nil
}

// GetByID fetches a payment intent by UUID.
func (r *IntentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1`
	return scanIntent(r.pool.QueryRow(ctx, query, id), "get payment intent")
}

// GetByIDForUpdate fetches and row-locks a payment intent within a database transaction.
func (r *IntentRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1 FOR UPDATE`
	return scanIntent(tx.QueryRow(ctx, query, id), "lock payment intent")
}

// GetByTxHash fetches the intent holding a matched transaction hash.
func (r *IntentRepo) GetByTxHash(ctx context.Context, txHash string) (*domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE matched_tx_hash = $1`
	return scanIntent(r.pool.QueryRow(ctx, query, txHash), "get payment intent by tx hash")
}

// ListOpenByDestination returns unexpired CREATED intents for an address and currency, oldest first.
func (r *IntentRepo) ListOpenByDestination(ctx context.Context, address, currency string, now time.Time) ([]domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents
		WHERE destination_address = $1 AND currency = $2 AND status = $3 AND expires_at > $4
		ORDER BY created_at, id`

	return r.list(ctx, r.pool, "list open intents", query, address, currency, domain.IntentStatusCreated, now)
}

// ListAwaiting returns AWAITING_CONFIRMATION intents, oldest match first.
func (r *IntentRepo) ListAwaiting(ctx context.Context, limit int) ([]domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents
		WHERE status = $1
		ORDER BY matched_block_number, id LIMIT $2`

	return r.list(ctx, r.pool, "list awaiting intents", query, domain.IntentStatusAwaitingConfirmation, limit)
}

// ListMatchedFromBlock returns every intent matched in block or later.
func (r *IntentRepo) ListMatchedFromBlock(ctx context.Context, block uint64) ([]domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents
		WHERE matched_tx_hash IS NOT NULL AND matched_block_number >= $1
		ORDER BY matched_block_number, id`

	return r.list(ctx, r.pool, "list matched intents", query, block)
}

// ListExpirable locks overdue intents: CREATED past expiry, and
// AWAITING_CONFIRMATION past expiry by at least the grace period.
func (r *IntentRepo) ListExpirable(ctx context.Context, tx pgx.Tx, now, awaitingBefore time.Time, limit int) ([]domain.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents
		WHERE (status = $1 AND expires_at <= $2) OR (status = $3 AND expires_at <= $4)
		ORDER BY expires_at, id LIMIT $5
		FOR UPDATE SKIP LOCKED`

	return r.list(ctx, tx, "list expirable intents", query,
		domain.IntentStatusCreated, now, domain.IntentStatusAwaitingConfirmation, awaitingBefore, limit)
}

// Update writes the intent if its stored version still equals expectedVersion,
// and advances the version on success.
func (r *IntentRepo) Update(ctx context.Context, tx pgx.Tx, i *domain.PaymentIntent, expectedVersion int64) error {
	query := `UPDATE payment_intents
		SET status=$1, matched_tx_hash=$2, matched_block_number=$3, received_amount=$4, confirmations=$5,
			failure_reason=$6, updated_at=$7, version=version+1
		WHERE id=$8 AND version=$9`

	tag, err := tx.Exec(ctx, query,
		i.Status, i.MatchedTxHash, i.MatchedBlockNumber, i.ReceivedAmount, i.Confirmations,
		i.FailureReason, i.UpdatedAt, i.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update payment intent: %w", mapUniqueViolation(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	i.Version = expectedVersion + 1
	return nil
}

// List fetches a merchant's intents with optional status filter and pagination.
func (r *IntentRepo) List(ctx context.Context, params domain.IntentListParams) ([]domain.PaymentIntent, int64, error) {
	conditions := []string{"merchant_id = $1"}
	args := []any{params.MerchantID}
	argIdx := 2

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM payment_intents %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payment intents: %w", err)
	}

	dataQuery := fmt.Sprintf(`SELECT %s FROM payment_intents %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		intentColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, params.Offset())

	intents, err := r.list(ctx, r.pool, "list payment intents", dataQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	return intents, total, nil
}

// CountByStatus counts a merchant's intents per status, optionally since a time.
func (r *IntentRepo) CountByStatus(ctx context.Context, merchantID uuid.UUID, since *time.Time) (map[domain.IntentStatus]int64, error) {
	query := `SELECT status, COUNT(*) FROM payment_intents WHERE merchant_id = $1`
	args := []any{merchantID}
	if since != nil {
		query += ` AND created_at >= $2`
		args = append(args, *since)
	}
	query += ` GROUP BY status`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count intents by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.IntentStatus]int64)
	for rows.Next() {
		var status domain.IntentStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *IntentRepo) list(ctx context.Context, q querier, op, query string, args ...any) ([]domain.PaymentIntent, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var intents []domain.PaymentIntent
	for rows.Next() {
		i, err := scanIntentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, err)
		}
		intents = append(intents, *i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate rows: %w", op, err)
	}
	return intents, nil
}

func scanIntent(row pgx.Row, op string) (*domain.PaymentIntent, error) {
	i, err := scanIntentRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return i, nil
}

func scanIntentRow(row pgx.Row) (*domain.PaymentIntent, error) {
	i := &domain.PaymentIntent{}
	err := row.Scan(
		&i.ID, &i.MerchantID, &i.ExpectedAmount, &i.Currency, &i.Chain, &i.DestinationAddress, &i.Status,
		&i.MatchedTxHash, &i.MatchedBlockNumber, &i.ReceivedAmount, &i.Confirmations, &i.RequiredConfirmations,
		&i.FailureReason, &i.Version, &i.CreatedAt, &i.UpdatedAt, &i.ExpiresAt,
	)
	return i, err
}
