package postgres

import (
	"context"
	"errors"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool is the subset of *pgxpool.Pool the repositories use; pgxmock.PgxPoolIface satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// querier is satisfied by both Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

// Unique constraints mapped to domain errors.
const (
	constraintIntentTxHash   = "payment_intents_matched_tx_hash_key"
	constraintMerchantEmail  = "merchants_email_key"
	constraintIdempotencyKey = "idempotency_logs_pkey"
)

// mapUniqueViolation translates a unique violation on a known constraint.
// Other errors are returned unchanged.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case constraintIntentTxHash:
		return domain.ErrTxHashClaimed
	case constraintMerchantEmail:
		return domain.ErrEmailTaken
	case constraintIdempotencyKey:
		return domain.ErrIdempotencyKey
	}
	return err
}
