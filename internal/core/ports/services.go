package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Token roles.
const (
	RoleMerchant = "merchant"
	RoleOperator = "operator"
)

// EncryptionService handles AES-256-GCM encryption/decryption.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	// BuildSignedPayload returns "<timestamp>.<body>", the string webhook signatures cover.
	BuildSignedPayload(timestamp int64, body []byte) string
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(subject uuid.UUID, role string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject uuid.UUID
	Role    string
}

// CredentialVault issues and verifies merchant credentials.
type CredentialVault interface {
	GenerateSecret(kind domain.SecretKind) (string, error)
	// HashAPIKey returns the lookup prefix and the keyed digest stored for raw.
	HashAPIKey(raw string) (prefix string, stored string)
	VerifyAPIKey(raw string, stored string) bool
	LookupPrefix(raw string) string
	GenerateProvisioningSecrets() (*domain.ProvisioningSecrets, error)
	// Halted reports whether an entropy failure has disabled issuance.
	Halted() bool
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Locker is a distributed mutex used for background-job leadership.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key string, token string) error
}

// EventEnqueuer writes webhook deliveries into the outbox inside the caller's transaction.
type EventEnqueuer interface {
	Enqueue(ctx context.Context, tx pgx.Tx, req EnqueueRequest) error
}

// EnqueueRequest is one event to be delivered.
type EnqueueRequest struct {
	MerchantID uuid.UUID
	IntentID   uuid.UUID
	EventType  domain.EventType
	Payload    []byte
}

// --- Service Ports (Business Logic) ---

// AuthService defines onboarding and dashboard authentication.
type AuthService interface {
	Onboard(ctx context.Context, req OnboardRequest) (*OnboardResponse, error)
	Login(ctx context.Context, email, password string) (string, time.Time, error) // token, expiry, error
}

// OnboardRequest holds input for merchant onboarding.
type OnboardRequest struct {
	Email         string
	Password      string
	BusinessName  string
	WalletAddress *string
	WebhookURL    *string
}

// OnboardResponse holds the onboarding result. Secrets are shown only once.
type OnboardResponse struct {
	MerchantID    uuid.UUID
	Status        domain.MerchantStatus
	APIKey        string
	SigningSecret string
}

// RotatedSecret is a freshly issued signing secret.
type RotatedSecret struct {
	Version int
	Secret  string
}

// MerchantService defines the merchant registry operations.
type MerchantService interface {
	Authenticate(ctx context.Context, apiKey string) (*domain.Merchant, error)
	GetProfile(ctx context.Context, merchantID uuid.UUID) (*domain.Merchant, error)
	UpdateWallet(ctx context.Context, merchantID uuid.UUID, rawAddress string) (*domain.Merchant, error)
	UpdateWebhookURL(ctx context.Context, merchantID uuid.UUID, webhookURL *string) error
	RotateAPIKey(ctx context.Context, merchantID uuid.UUID) (string, error)
	RotateSigningSecret(ctx context.Context, merchantID uuid.UUID) (*RotatedSecret, error)
	ListSigningSecrets(ctx context.Context, merchantID uuid.UUID) ([]domain.SigningSecret, error)
	SetStatus(ctx context.Context, merchantID uuid.UUID, status domain.MerchantStatus) (*domain.Merchant, error)
	MarkEmailVerified(ctx context.Context, merchantID uuid.UUID) error
}

// CreateIntentRequest holds validated input for intent creation.
type CreateIntentRequest struct {
	MerchantID     uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	TTL            *time.Duration
	IdempotencyKey string
}

// MatchRequest is an observed transfer attributed to an intent.
type MatchRequest struct {
	IntentID      uuid.UUID
	TxHash        string
	Amount        decimal.Decimal
	Confirmations int
	BlockNumber   uint64
}

// PaymentIntentService is the payment intent state machine.
type PaymentIntentService interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*domain.PaymentIntent, error)
	GetIntent(ctx context.Context, merchantID, intentID uuid.UUID) (*domain.PaymentIntent, error)
	ListIntents(ctx context.Context, params domain.IntentListParams) ([]domain.PaymentIntent, int64, error)
	RecordMatch(ctx context.Context, req MatchRequest) (*domain.PaymentIntent, error)
	InvalidateMatch(ctx context.Context, intentID uuid.UUID, txHash string, reason string) (*domain.PaymentIntent, error)
	// Cancel moves the intent to FAILED. A nil merchantID is an operator cancellation.
	Cancel(ctx context.Context, intentID uuid.UUID, merchantID *uuid.UUID, reason string) (*domain.PaymentIntent, error)
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// IntentStats holds aggregated intent counts for the dashboard.
type IntentStats struct {
	Total       int64                         `json:"total"`
	ByStatus    map[domain.IntentStatus]int64 `json:"by_status"`
	PeriodStart *time.Time                    `json:"period_start,omitempty"`
}

// ReportingService defines dashboard/reporting queries.
type ReportingService interface {
	GetIntentStats(ctx context.Context, merchantID uuid.UUID, period string) (*IntentStats, error)
	ListDeliveries(ctx context.Context, merchantID uuid.UUID, page, pageSize int) ([]domain.WebhookDelivery, int64, error)
	ListExhaustedDeliveries(ctx context.Context, page, pageSize int) ([]domain.WebhookDelivery, int64, error)
}

// AuditService records audited actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
