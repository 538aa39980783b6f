package domain

import (
	"time"

	"github.com/google/uuid"
)

// SecretKind selects the prefix and purpose of a generated secret.
type SecretKind string

const (
	SecretKindAPIKey       SecretKind = "api_key"
	SecretKindWebhook      SecretKind = "webhook"
	SecretKindProvisioning SecretKind = "provisioning"
)

// Prefix returns the human-visible prefix carried by raw secrets of this kind.
func (k SecretKind) Prefix() string {
	switch k {
	case SecretKindAPIKey:
		return "sk_"
	case SecretKindWebhook:
		return "whsec_"
	}
	return ""
}

// SigningSecret is one version of a merchant's webhook signing secret.
// Older versions stay readable so queued deliveries keep their pinned version.
type SigningSecret struct {
	MerchantID uuid.UUID  `json:"merchant_id"`
	Version    int        `json:"version"`
	SecretEnc  string     `json:"-"` // AES-256-GCM, hex
	CreatedAt  time.Time  `json:"created_at"`
	RetiredAt  *time.Time `json:"retired_at,omitempty"`
}

// ProvisioningSecrets are the deployment secrets printed once by the operator CLI.
type ProvisioningSecrets struct {
	JWTSecret     string `json:"jwt_secret"`
	AESKey        string `json:"aes_key"`
	APIKeyPepper  string `json:"api_key_pepper"`
	WebhookSecret string `json:"webhook_secret"`
}
