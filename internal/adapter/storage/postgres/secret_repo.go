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

// SecretRepo implements ports.SigningSecretRepository.
// Rows are keyed by (merchant_id, version) and never deleted.
type SecretRepo struct {
	pool Pool
}

func NewSecretRepo(pool Pool) *SecretRepo {
	return &SecretRepo{pool: pool}
}

func (r *SecretRepo) Create(ctx context.Context, tx pgx.Tx, s *domain.SigningSecret) error {
	query := `INSERT INTO signing_secrets (merchant_id, version, secret_enc, created_at, retired_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := tx.Exec(ctx, query, s.MerchantID, s.Version, s.SecretEnc, s.CreatedAt, s.RetiredAt); err != nil {
		return fmt.Errorf("insert signing secret: %w", err)
	}
	return nil
}

// Get returns one secret version, retired or not.
func (r *SecretRepo) Get(ctx context.Context, merchantID uuid.UUID, version int) (*domain.SigningSecret, error) {
	query := `SELECT merchant_id, version, secret_enc, created_at, retired_at
		FROM signing_secrets WHERE merchant_id = $1 AND version = $2`

	s := &domain.SigningSecret{}
	err := r.pool.QueryRow(ctx, query, merchantID, version).
		Scan(&s.MerchantID, &s.Version, &s.SecretEnc, &s.CreatedAt, &s.RetiredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get signing secret: %w", err)
	}
	return s, nil
}

// ListByMerchant returns every version, newest first.
func (r *SecretRepo) ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]domain.SigningSecret, error) {
	query := `SELECT merchant_id, version, secret_enc, created_at, retired_at
		FROM signing_secrets WHERE merchant_id = $1 ORDER BY version DESC`

	rows, err := r.pool.Query(ctx, query, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list signing secrets: %w", err)
	}
	defer rows.Close()

	var secrets []domain.SigningSecret
	for rows.Next() {
		var s domain.SigningSecret
		if err := rows.Scan(&s.MerchantID, &s.Version, &s.SecretEnc, &s.CreatedAt, &s.RetiredAt); err != nil {
			return nil, fmt.Errorf("scan signing secret: %w", err)
		}
		secrets = append(secrets, s)
	}
	return secrets, rows.Err()
}

// Retire stamps retired_at on a version that is still current. Retiring twice is a no-op.
func (r *SecretRepo) Retire(ctx context.Context, tx pgx.Tx, merchantID uuid.UUID, version int, at time.Time) error {
	query := `UPDATE signing_secrets SET retired_at = $3
		WHERE merchant_id = $1 AND version = $2 AND retired_at IS NULL`

	if _, err := tx.Exec(ctx, query, merchantID, version, at); err != nil {
		return fmt.Errorf("retire signing secret: %w", err)
	}
	return nil
}
