package domain

import (
	"time"

	"github.com/google/uuid"
)

// MerchantStatus represents the state of a merchant account.
type MerchantStatus string

const (
	MerchantStatusPending   MerchantStatus = "PENDING"
	MerchantStatusActive    MerchantStatus = "ACTIVE"
	MerchantStatusSuspended MerchantStatus = "SUSPENDED"
	MerchantStatusClosed    MerchantStatus = "CLOSED"
)

var merchantTransitions = map[MerchantStatus][]MerchantStatus{
	MerchantStatusPending:   {MerchantStatusActive, MerchantStatusClosed},
	MerchantStatusActive:    {MerchantStatusSuspended, MerchantStatusClosed},
	MerchantStatusSuspended: {MerchantStatusActive, MerchantStatusClosed},
}

// Merchant represents a registered merchant in the system.
// Merchants are never hard-deleted; CLOSED is terminal.
type Merchant struct {
	ID                   uuid.UUID      `json:"id"`
	Email                string         `json:"email"`
	PasswordHash         string         `json:"-"`
	BusinessName         string         `json:"business_name"`
	APIKeyPrefix         string         `json:"-"`
	APIKeyHash           string         `json:"-"`
	WalletAddress        *string        `json:"wallet_address,omitempty"` // Always EIP-55
	WebhookURL           *string        `json:"webhook_url,omitempty"`
	SigningSecretVersion int            `json:"signing_secret_version"`
	Status               MerchantStatus `json:"status"`
	EmailVerified        bool           `json:"email_verified"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// IsActive returns true if the merchant account is active.
func (m *Merchant) IsActive() bool {
	return m.Status == MerchantStatusActive
}

// CanReceivePayments reports whether intents may be created for the merchant.
func (m *Merchant) CanReceivePayments() bool {
	return m.IsActive() && m.WalletAddress != nil && *m.WalletAddress != ""
}

func (s MerchantStatus) CanTransitionTo(next MerchantStatus) bool {
	for _, allowed := range merchantTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
