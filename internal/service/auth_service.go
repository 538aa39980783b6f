package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crypto-payment-gateway/internal/clock"
	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AuthServiceImpl implements ports.AuthService.
type AuthServiceImpl struct {
	merchantRepo ports.MerchantRepository
	secretRepo   ports.SigningSecretRepository
	transactor   ports.DBTransactor
	vault        ports.CredentialVault
	hashSvc      ports.HashService
	encSvc       ports.EncryptionService
	tokenSvc     ports.TokenService
	autoActivate bool
	clock        clock.Clock
	log          zerolog.Logger
}

// NewAuthService creates a new AuthServiceImpl. With autoActivate, onboarded
// merchants start ACTIVE instead of PENDING.
func NewAuthService(
	merchantRepo ports.MerchantRepository,
	secretRepo ports.SigningSecretRepository,
	transactor ports.DBTransactor,
	vault ports.CredentialVault,
	hashSvc ports.HashService,
	encSvc ports.EncryptionService,
	tokenSvc ports.TokenService,
	autoActivate bool,
	clk clock.Clock,
	log zerolog.Logger,
) *AuthServiceImpl {
	if clk == nil {
		clk = clock.Real{}
	}
	return &AuthServiceImpl{
		merchantRepo: merchantRepo,
		secretRepo:   secretRepo,
		transactor:   transactor,
		vault:        vault,
		hashSvc:      hashSvc,
		encSvc:       encSvc,
		tokenSvc:     tokenSvc,
		autoActivate: autoActivate,
		clock:        clk,
		log:          log,
	}
}

// Onboard registers a merchant and issues its API key and first signing
// secret. Both raw secrets are returned only here.
func (s *AuthServiceImpl) Onboard(ctx context.Context, req ports.OnboardRequest) (*ports.OnboardResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" || strings.TrimSpace(req.BusinessName) == "" {
		return nil, apperror.Validation("email, password and business name are required")
	}

	var wallet *string
	if req.WalletAddress != nil && strings.TrimSpace(*req.WalletAddress) != "" {
		normalized, err := NormalizeWalletAddress(*req.WalletAddress)
		if err != nil {
			return nil, err
		}
		wallet = &normalized
	}

	existing, err := s.merchantRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("check email: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrEmailExists()
	}

	apiKey, err := s.vault.GenerateSecret(domain.SecretKindAPIKey)
	if err != nil {
		return nil, err
	}
	signingSecret, err := s.vault.GenerateSecret(domain.SecretKindWebhook)
	if err != nil {
		return nil, err
	}
	prefix, digest := s.vault.HashAPIKey(apiKey)

	secretEnc, err := s.encSvc.Encrypt(signingSecret)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(fmt.Errorf("encrypt signing secret: %w", err))
	}
	passwordHash, err := s.hashSvc.Hash(req.Password)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("hash password: %w", err))
	}

	status := domain.MerchantStatusPending
	if s.autoActivate {
		status = domain.MerchantStatusActive
	}

	now := s.clock.Now()
	merchant := &domain.Merchant{
		ID:                   uuid.New(),
		Email:                email,
		PasswordHash:         passwordHash,
		BusinessName:         strings.TrimSpace(req.BusinessName),
		APIKeyPrefix:         prefix,
		APIKeyHash:           digest,
		WalletAddress:        wallet,
		WebhookURL:           req.WebhookURL,
		SigningSecretVersion: 1,
		Status:               status,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.merchantRepo.Create(ctx, dbTx, merchant); err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			return nil, apperror.ErrEmailExists()
		}
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create merchant: %w", err))
	}
	err = s.secretRepo.Create(ctx, dbTx, &domain.SigningSecret{
		MerchantID: merchant.ID,
		Version:    1,
		SecretEnc:  secretEnc,
		CreatedAt:  now,
	})
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create signing secret: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("merchant_id", merchant.ID.String()).
		Str("status", string(status)).
		Bool("has_wallet", wallet != nil).
		Msg("merchant onboarded")

	return &ports.OnboardResponse{
		MerchantID:    merchant.ID,
		Status:        status,
		APIKey:        apiKey,
		SigningSecret: signingSecret,
	}, nil
}

// Login validates credentials and returns a merchant JWT.
func (s *AuthServiceImpl) Login(ctx context.Context, email, password string) (string, time.Time, error) {
	merchant, err := s.merchantRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", time.Time{}, apperror.ErrDatabaseError(fmt.Errorf("find merchant: %w", err))
	}
	if merchant == nil {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	valid, err := s.hashSvc.Verify(password, merchant.PasswordHash)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("verify password: %w", err))
	}
	if !valid {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	if merchant.Status == domain.MerchantStatusSuspended || merchant.Status == domain.MerchantStatusClosed {
		return "", time.Time{}, apperror.ErrMerchantSuspended()
	}

	token, expiry, err := s.tokenSvc.Generate(merchant.ID, ports.RoleMerchant)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	return token, expiry, nil
}
