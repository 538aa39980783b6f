package postgres

import (
	"context"
	"errors"
	"fmt"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const merchantColumns = `id, email, password_hash, business_name, api_key_prefix, api_key_hash,
		wallet_address, webhook_url, signing_secret_version, status, email_verified, created_at, updated_at`

// MerchantRepo implements ports.MerchantRepository.
type MerchantRepo struct {
	pool Pool
}

// NewMerchantRepo creates a new MerchantRepo.
func NewMerchantRepo(pool Pool) *MerchantRepo {
	return &MerchantRepo{pool: pool}
}

// Create inserts a new merchant within a database transaction.
func (r *MerchantRepo) Create(ctx context.Context, tx pgx.Tx, m *domain.Merchant) error {
	query := `INSERT INTO merchants (` + merchantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := tx.Exec(ctx, query,
		m.ID, m.Email, m.PasswordHash, m.BusinessName, m.APIKeyPrefix, m.APIKeyHash,
		m.WalletAddress, m.WebhookURL, m.SigningSecretVersion, m.Status, m.EmailVerified,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert merchant: %w", mapUniqueViolation(err))
	}
	return nil
}

// GetByID fetches a merchant by its UUID.
func (r *MerchantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE id = $1`
	return scanMerchant(r.pool.QueryRow(ctx, query, id), "get merchant by id")
}

// GetByIDForUpdate fetches and row-locks a merchant within a database transaction.
func (r *MerchantRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE id = $1 FOR UPDATE`
	return scanMerchant(tx.QueryRow(ctx, query, id), "lock merchant")
}

// GetByEmail fetches a merchant by its lowercased email.
func (r *MerchantRepo) GetByEmail(ctx context.Context, email string) (*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE email = $1`
	return scanMerchant(r.pool.QueryRow(ctx, query, email), "get merchant by email")
}

// GetByAPIKeyPrefix fetches a merchant by the indexed API key lookup prefix.
func (r *MerchantRepo) GetByAPIKeyPrefix(ctx context.Context, prefix string) (*domain.Merchant, error) {
	query := `SELECT ` + merchantColumns + ` FROM merchants WHERE api_key_prefix = $1`
	return scanMerchant(r.pool.QueryRow(ctx, query, prefix), "get merchant by api key prefix")
}

// ListActiveWallets returns the distinct wallet addresses of ACTIVE merchants.
func (r *MerchantRepo) ListActiveWallets(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT wallet_address FROM merchants
		WHERE status = $1 AND wallet_address IS NOT NULL
		ORDER BY wallet_address`

	rows, err := r.pool.Query(ctx, query, domain.MerchantStatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active wallets: %w", err)
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// Update writes every mutable merchant field within a database transaction.
func (r *MerchantRepo) Update(ctx context.Context, tx pgx.Tx, m *domain.Merchant) error {
	query := `UPDATE merchants
		SET business_name=$1, api_key_prefix=$2, api_key_hash=$3, wallet_address=$4, webhook_url=$5,
			signing_secret_version=$6, status=$7, email_verified=$8, updated_at=$9
		WHERE id=$10`

	tag, err := tx.Exec(ctx, query,
		m.BusinessName, m.APIKeyPrefix, m.APIKeyHash, m.WalletAddress, m.WebhookURL,
		m.SigningSecretVersion, m.Status, m.EmailVerified, m.UpdatedAt, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update merchant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("merchant not found: %s", m.ID)
	}
	return nil
}

func scanMerchant(row pgx.Row, op string) (*domain.Merchant, error) {
	m := &domain.Merchant{}
	err := row.Scan(
		&m.ID, &m.Email, &m.PasswordHash, &m.BusinessName, &m.APIKeyPrefix, &m.APIKeyHash,
		&m.WalletAddress, &m.WebhookURL, &m.SigningSecretVersion, &m.Status, &m.EmailVerified,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}
