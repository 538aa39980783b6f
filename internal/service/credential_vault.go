package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/pkg/apperror"

	"github.com/rs/zerolog"
)

const (
	secretEntropyBytes = 32
	apiKeyPrefixLen    = 16
)

var (
	errVaultHalted     = errors.New("credential vault halted after entropy failure")
	errDegenerateBytes = errors.New("entropy source returned degenerate bytes")
)

// CredentialVaultImpl implements ports.CredentialVault.
// Once the entropy source fails it refuses every later issuance.
type CredentialVaultImpl struct {
	pepper  []byte
	entropy io.Reader
	halted  atomic.Bool
	log     zerolog.Logger
}

// NewCredentialVault creates a vault keyed by a 32-byte hex pepper.
// A nil entropy reader means crypto/rand.
func NewCredentialVault(pepperHex string, entropy io.Reader, log zerolog.Logger) (*CredentialVaultImpl, error) {
	pepper, err := hex.DecodeString(pepperHex)
	if err != nil {
		return nil, apperror.ErrInvalidSecretFormat(fmt.Errorf("decoding api key pepper: %w", err))
	}
	if len(pepper) != 32 {
		return nil, apperror.ErrInvalidSecretFormat(fmt.Errorf("api key pepper must be 32 bytes, got %d", len(pepper)))
	}
	if entropy == nil {
		entropy = rand.Reader
	}
	return &CredentialVaultImpl{pepper: pepper, entropy: entropy, log: log}, nil
}

// GenerateSecret returns a kind-prefixed hex secret with 256 bits of entropy.
func (v *CredentialVaultImpl) GenerateSecret(kind domain.SecretKind) (string, error) {
	if v.halted.Load() {
		return "", apperror.ErrInvalidSecretFormat(errVaultHalted)
	}

	buf := make([]byte, secretEntropyBytes)
	if _, err := io.ReadFull(v.entropy, buf); err != nil {
		return "", v.halt(kind, fmt.Errorf("reading entropy: %w", err))
	}
	if degenerate(buf) {
		return "", v.halt(kind, errDegenerateBytes)
	}

	return kind.Prefix() + hex.EncodeToString(buf), nil
}

func (v *CredentialVaultImpl) halt(kind domain.SecretKind, cause error) error {
	v.halted.Store(true)
	v.log.Error().Err(cause).Str("kind", string(kind)).Msg("credential vault halted: secret issuance disabled")
	return apperror.ErrInvalidSecretFormat(cause)
}

func (v *CredentialVaultImpl) Halted() bool {
	return v.halted.Load()
}

// HashAPIKey returns the lookup prefix, hex(SHA-256(raw))[:16], and the stored
// digest, hex(HMAC-SHA256(pepper, raw)).
func (v *CredentialVaultImpl) HashAPIKey(raw string) (string, string) {
	return v.LookupPrefix(raw), hex.EncodeToString(v.mac(raw))
}

func (v *CredentialVaultImpl) VerifyAPIKey(raw string, stored string) bool {
	want, err := hex.DecodeString(stored)
	if err != nil {
		return false
	}
	return hmac.Equal(v.mac(raw), want)
}

func (v *CredentialVaultImpl) LookupPrefix(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:apiKeyPrefixLen]
}

// GenerateProvisioningSecrets issues the deployment secrets for a new environment.
func (v *CredentialVaultImpl) GenerateProvisioningSecrets() (*domain.ProvisioningSecrets, error) {
	var out domain.ProvisioningSecrets
	targets := []struct {
		dst  *string
		kind domain.SecretKind
	}{
		{&out.JWTSecret, domain.SecretKindProvisioning},
		{&out.AESKey, domain.SecretKindProvisioning},
		{&out.APIKeyPepper, domain.SecretKindProvisioning},
		{&out.WebhookSecret, domain.SecretKindWebhook},
	}
	for _, t := range targets {
		s, err := v.GenerateSecret(t.kind)
		if err != nil {
			return nil, err
		}
		*t.dst = s
	}
	return &out, nil
}

func (v *CredentialVaultImpl) mac(raw string) []byte {
	m := hmac.New(sha256.New, v.pepper)
	m.Write([]byte(raw))
	return m.Sum(nil)
}

// degenerate flags a stuck source: every byte identical.
func degenerate(b []byte) bool {
	for _, c := range b[1:] {
		if c != b[0] {
			return false
		}
	}
	return true
}
