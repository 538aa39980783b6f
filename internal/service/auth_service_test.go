package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type authDeps struct {
	ctrl         *gomock.Controller
	merchantRepo *mocks.MockMerchantRepository
	secretRepo   *mocks.MockSigningSecretRepository
	transactor   *mocks.MockDBTransactor
	hashSvc      *mocks.MockHashService
	encSvc       *mocks.MockEncryptionService
	tokenSvc     *mocks.MockTokenService
	vault        *CredentialVaultImpl
}

func setupAuthService(t *testing.T, autoActivate bool) (*AuthServiceImpl, *authDeps) {
	ctrl := gomock.NewController(t)
	d := &authDeps{
		ctrl:         ctrl,
		merchantRepo: mocks.NewMockMerchantRepository(ctrl),
		secretRepo:   mocks.NewMockSigningSecretRepository(ctrl),
		transactor:   mocks.NewMockDBTransactor(ctrl),
		hashSvc:      mocks.NewMockHashService(ctrl),
		encSvc:       mocks.NewMockEncryptionService(ctrl),
		tokenSvc:     mocks.NewMockTokenService(ctrl),
		vault:        newTestVault(t),
	}
	svc := NewAuthService(d.merchantRepo, d.secretRepo, d.transactor, d.vault, d.hashSvc, d.encSvc, d.tokenSvc, autoActivate, nil, newTestLogger())
	return svc, d
}

func TestAuthService_Onboard_Success(t *testing.T) {
	svc, d := setupAuthService(t, false)
	defer d.ctrl.Finish()

	ctx := context.Background()
	wallet := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	req := ports.OnboardRequest{
		Email:         " Shop@Example.com ",
		Password:      "StrongP@ss123",
		BusinessName:  "Test Shop",
		WalletAddress: &wallet,
	}

	var created *domain.Merchant
	// Expect: check email uniqueness on the normalized address
	d.merchantRepo.EXPECT().GetByEmail(ctx, "shop@example.com").Return(nil, nil)
	// Expect: encrypt signing secret, hash password
	d.encSvc.EXPECT().Encrypt(gomock.Any()).Return("encrypted_secret", nil)
	d.hashSvc.EXPECT().Hash(req.Password).Return("$argon2id$hashed", nil)
	// Expect: merchant and secret v1 written in one transaction
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.merchantRepo.EXPECT().Create(ctx, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, m *domain.Merchant) error {
			created = m
			return nil
		})
	d.secretRepo.EXPECT().Create(ctx, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, s *domain.SigningSecret) error {
			assert.Equal(t, 1, s.Version)
			assert.Equal(t, "encrypted_secret", s.SecretEnc)
			return nil
		})

	resp, err := svc.Onboard(ctx, req)
	require.NoError(t, err)

	assert.Regexp(t, `^sk_[0-9a-f]{64}$`, resp.APIKey)
	assert.Regexp(t, `^whsec_[0-9a-f]{64}$`, resp.SigningSecret)
	assert.Equal(t, domain.MerchantStatusPending, resp.Status)

	require.NotNil(t, created)
	assert.Equal(t, resp.MerchantID, created.ID)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", *created.WalletAddress)
	assert.Equal(t, d.vault.LookupPrefix(resp.APIKey), created.APIKeyPrefix)
	assert.True(t, d.vault.VerifyAPIKey(resp.APIKey, created.APIKeyHash))
	assert.NotContains(t, created.APIKeyHash, resp.APIKey)
	assert.Equal(t, 1, created.SigningSecretVersion)
}

func TestAuthService_Onboard_AutoActivate(t *testing.T) {
	svc, d := setupAuthService(t, true)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.merchantRepo.EXPECT().GetByEmail(ctx, "a@b.co").Return(nil, nil)
	d.encSvc.EXPECT().Encrypt(gomock.Any()).Return("enc", nil)
	d.hashSvc.EXPECT().Hash(gomock.Any()).Return("hash", nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.merchantRepo.EXPECT().Create(ctx, gomock.Any(), gomock.Any()).Return(nil)
	d.secretRepo.EXPECT().Create(ctx, gomock.Any(), gomock.Any()).Return(nil)

	resp, err := svc.Onboard(ctx, ports.OnboardRequest{Email: "a@b.co", Password: "pw", BusinessName: "B"})
	require.NoError(t, err)
	assert.Equal(t, domain.MerchantStatusActive, resp.Status)
}

func TestAuthService_Onboard_DuplicateEmail(t *testing.T) {
	svc, d := setupAuthService(t, false)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.merchantRepo.EXPECT().GetByEmail(ctx, "taken@example.com").Return(&domain.Merchant{ID: uuid.New()}, nil)

	_, err := svc.Onboard(ctx, ports.OnboardRequest{Email: "taken@example.com", Password: "pw", BusinessName: "B"})
	assertAppError(t, err, "AUTH_002")
}

func TestAuthService_Onboard_DuplicateEmailRace(t *testing.T) {
	svc, d := setupAuthService(t, false)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.merchantRepo.EXPECT().GetByEmail(ctx, gomock.Any()).Return(nil, nil)
	d.encSvc.EXPECT().Encrypt(gomock.Any()).Return("enc", nil)
	d.hashSvc.EXPECT().Hash(gomock.Any()).Return("hash", nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.merchantRepo.EXPECT().Create(ctx, gomock.Any(), gomock.Any()).Return(domain.ErrEmailTaken)

	_, err := svc.Onboard(ctx, ports.OnboardRequest{Email: "race@example.com", Password: "pw", BusinessName: "B"})
	assertAppError(t, err, "AUTH_002")
}

func TestAuthService_Onboard_InvalidWallet(t *testing.T) {
	svc, d := setupAuthService(t, false)
	defer d.ctrl.Finish()

	bad := "0x1234"
	_, err := svc.Onboard(context.Background(), ports.OnboardRequest{
		Email: "a@b.co", Password: "pw", BusinessName: "B", WalletAddress: &bad,
	})
	assertAppError(t, err, "VAL_001")
}

func TestAuthService_Onboard_MissingFields(t *testing.T) {
	svc, d := setupAuthService(t, false)
	defer d.ctrl.Finish()

	_, err := svc.Onboard(context.Background(), ports.OnboardRequest{Email: "a@b.co"})
	assertAppError(t, err, "VAL_002")
}

func TestAuthService_Login_Success(t *testing.T) {
	svc, d := setupAuthService(t, false)
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	expiry := time.Now().Add(24 * time.Hour)

	d.merchantRepo.EXPECT().GetByEmail(ctx, "shop@example.com").Return(&domain.Merchant{
		ID:           merchantID,
		PasswordHash: "$argon2id$hashed",
		Status:       domain.MerchantStatusPending,
	}, nil)
	d.hashSvc.EXPECT().Verify("StrongP@ss123", "$argon2id$hashed").Return(true, nil)
	d.tokenSvc.EXPECT().Generate(merchantID, ports.RoleMerchant).Return("jwt-token", expiry, nil)

	token, exp, err := svc.Login(ctx, "Shop@example.com", "StrongP@ss123")
	require.NoError(t, err)
	assert.Equal(t, "jwt-token", token)
	assert.Equal(t, expiry, exp)
}

func TestAuthService_Login_Failures(t *testing.T) {
	tests := []struct {
		name     string
		merchant *domain.Merchant
		repoErr  error
		valid    bool
		code     string
	}{
		{"unknown email", nil, nil, false, "AUTH_001"},
		{"wrong password", &domain.Merchant{PasswordHash: "h", Status: domain.MerchantStatusActive}, nil, false, "AUTH_001"},
		{"suspended", &domain.Merchant{PasswordHash: "h", Status: domain.MerchantStatusSuspended}, nil, true, "AUTH_004"},
		{"closed", &domain.Merchant{PasswordHash: "h", Status: domain.MerchantStatusClosed}, nil, true, "AUTH_004"},
		{"db error", nil, errors.New("connection refused"), false, "SYS_001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, d := setupAuthService(t, false)
			defer d.ctrl.Finish()

			d.merchantRepo.EXPECT().GetByEmail(gomock.Any(), gomock.Any()).Return(tt.merchant, tt.repoErr)
			if tt.merchant != nil {
				d.hashSvc.EXPECT().Verify(gomock.Any(), tt.merchant.PasswordHash).Return(tt.valid, nil)
			}

			_, _, err := svc.Login(context.Background(), "x@example.com", "pw")
			assertAppError(t, err, tt.code)
		})
	}
}
