package service

import (
	"context"
	"fmt"
	"strings"

	"crypto-payment-gateway/internal/clock"
	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// MerchantServiceImpl implements ports.MerchantService.
type MerchantServiceImpl struct {
	merchantRepo ports.MerchantRepository
	secretRepo   ports.SigningSecretRepository
	transactor   ports.DBTransactor
	vault        ports.CredentialVault
	encSvc       ports.EncryptionService
	clock        clock.Clock
	log          zerolog.Logger
}

// NewMerchantService creates a new merchant registry service.
func NewMerchantService(
	merchantRepo ports.MerchantRepository,
	secretRepo ports.SigningSecretRepository,
	transactor ports.DBTransactor,
	vault ports.CredentialVault,
	encSvc ports.EncryptionService,
	clk clock.Clock,
	log zerolog.Logger,
) *MerchantServiceImpl {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MerchantServiceImpl{
		merchantRepo: merchantRepo,
		secretRepo:   secretRepo,
		transactor:   transactor,
		vault:        vault,
		encSvc:       encSvc,
		clock:        clk,
		log:          log,
	}
}

// Authenticate resolves an API key to an ACTIVE merchant.
func (s *MerchantServiceImpl) Authenticate(ctx context.Context, apiKey string) (*domain.Merchant, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, apperror.ErrUnauthorized()
	}

	merchant, err := s.merchantRepo.GetByAPIKeyPrefix(ctx, s.vault.LookupPrefix(apiKey))
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lookup api key: %w", err))
	}
	if merchant == nil || !s.vault.VerifyAPIKey(apiKey, merchant.APIKeyHash) {
		return nil, apperror.ErrUnauthorized()
	}
	if !merchant.IsActive() {
		return nil, apperror.ErrMerchantSuspended()
	}
	return merchant, nil
}

func (s *MerchantServiceImpl) GetProfile(ctx context.Context, merchantID uuid.UUID) (*domain.Merchant, error) {
	merchant, err := s.merchantRepo.GetByID(ctx, merchantID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if merchant == nil {
		return nil, apperror.ErrNotFound("Merchant")
	}
	return merchant, nil
}

// UpdateWallet stores the EIP-55 form of rawAddress.
func (s *MerchantServiceImpl) UpdateWallet(ctx context.Context, merchantID uuid.UUID, rawAddress string) (*domain.Merchant, error) {
	address, err := NormalizeWalletAddress(rawAddress)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, merchantID, func(_ pgx.Tx, m *domain.Merchant) error {
		if m.Status == domain.MerchantStatusClosed {
			return apperror.ErrMerchantSuspended()
		}
		m.WalletAddress = &address
		return nil
	})
}

func (s *MerchantServiceImpl) UpdateWebhookURL(ctx context.Context, merchantID uuid.UUID, webhookURL *string) error {
	if webhookURL != nil && strings.TrimSpace(*webhookURL) == "" {
		webhookURL = nil
	}
	_, err := s.mutate(ctx, merchantID, func(_ pgx.Tx, m *domain.Merchant) error {
		if m.Status == domain.MerchantStatusClosed {
			return apperror.ErrMerchantSuspended()
		}
		m.WebhookURL = webhookURL
		return nil
	})
	return err
}

// RotateAPIKey replaces the merchant's API key; the old key stops working at commit.
func (s *MerchantServiceImpl) RotateAPIKey(ctx context.Context, merchantID uuid.UUID) (string, error) {
	raw, err := s.vault.GenerateSecret(domain.SecretKindAPIKey)
	if err != nil {
		return "", err
	}
	prefix, digest := s.vault.HashAPIKey(raw)

	_, err = s.mutate(ctx, merchantID, func(_ pgx.Tx, m *domain.Merchant) error {
		if m.Status == domain.MerchantStatusClosed {
			return apperror.ErrMerchantSuspended()
		}
		m.APIKeyPrefix = prefix
		m.APIKeyHash = digest
		return nil
	})
	if err != nil {
		return "", err
	}

	s.log.Info().Str("merchant_id", merchantID.String()).Msg("api key rotated")
	return raw, nil
}

// RotateSigningSecret issues a new secret version. Earlier versions stay
// readable so deliveries already queued still verify.
func (s *MerchantServiceImpl) RotateSigningSecret(ctx context.Context, merchantID uuid.UUID) (*ports.RotatedSecret, error) {
	raw, err := s.vault.GenerateSecret(domain.SecretKindWebhook)
	if err != nil {
		return nil, err
	}
	enc, err := s.encSvc.Encrypt(raw)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(fmt.Errorf("encrypt signing secret: %w", err))
	}

	var version int
	_, err = s.mutate(ctx, merchantID, func(tx pgx.Tx, m *domain.Merchant) error {
		if m.Status == domain.MerchantStatusClosed {
			return apperror.ErrMerchantSuspended()
		}
		now := s.clock.Now()
		previous := m.SigningSecretVersion
		version = previous + 1

		if err := s.secretRepo.Create(ctx, tx, &domain.SigningSecret{
			MerchantID: m.ID,
			Version:    version,
			SecretEnc:  enc,
			CreatedAt:  now,
		}); err != nil {
			return apperror.ErrDatabaseError(fmt.Errorf("create signing secret: %w", err))
		}
		if previous > 0 {
			if err := s.secretRepo.Retire(ctx, tx, m.ID, previous, now); err != nil {
				return apperror.ErrDatabaseError(fmt.Errorf("retire signing secret: %w", err))
			}
		}
		m.SigningSecretVersion = version
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("merchant_id", merchantID.String()).Int("version", version).Msg("signing secret rotated")
	return &ports.RotatedSecret{Version: version, Secret: raw}, nil
}

func (s *MerchantServiceImpl) ListSigningSecrets(ctx context.Context, merchantID uuid.UUID) ([]domain.SigningSecret, error) {
	secrets, err := s.secretRepo.ListByMerchant(ctx, merchantID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return secrets, nil
}

// SetStatus applies an operator status change.
func (s *MerchantServiceImpl) SetStatus(ctx context.Context, merchantID uuid.UUID, status domain.MerchantStatus) (*domain.Merchant, error) {
	var from domain.MerchantStatus
	m, err := s.mutate(ctx, merchantID, func(_ pgx.Tx, m *domain.Merchant) error {
		from = m.Status
		if !m.Status.CanTransitionTo(status) {
			return apperror.ErrInvalidTransition(string(m.Status), string(status))
		}
		m.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("merchant_id", merchantID.String()).
		Str("from", string(from)).
		Str("to", string(status)).
		Msg("merchant status changed")
	return m, nil
}

func (s *MerchantServiceImpl) MarkEmailVerified(ctx context.Context, merchantID uuid.UUID) error {
	_, err := s.mutate(ctx, merchantID, func(_ pgx.Tx, m *domain.Merchant) error {
		m.EmailVerified = true
		return nil
	})
	return err
}

// mutate locks the merchant row, applies fn and writes the result.
func (s *MerchantServiceImpl) mutate(ctx context.Context, merchantID uuid.UUID, fn func(tx pgx.Tx, m *domain.Merchant) error) (*domain.Merchant, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	merchant, err := s.merchantRepo.GetByIDForUpdate(ctx, dbTx, merchantID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock merchant: %w", err))
	}
	if merchant == nil {
		return nil, apperror.ErrNotFound("Merchant")
	}

	if err := fn(dbTx, merchant); err != nil {
		return nil, err
	}
	merchant.UpdatedAt = s.clock.Now()

	if err := s.merchantRepo.Update(ctx, dbTx, merchant); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update merchant: %w", err))
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}
	return merchant, nil
}
