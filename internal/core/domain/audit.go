package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionRegister            AuditAction = "REGISTER"
	AuditActionLogin               AuditAction = "LOGIN"
	AuditActionCreateIntent        AuditAction = "CREATE_INTENT"
	AuditActionCancelIntent        AuditAction = "CANCEL_INTENT"
	AuditActionUpdateWallet        AuditAction = "UPDATE_WALLET"
	AuditActionUpdateWebhook       AuditAction = "UPDATE_WEBHOOK"
	AuditActionRotateAPIKey        AuditAction = "ROTATE_API_KEY"
	AuditActionRotateSigningSecret AuditAction = "ROTATE_SIGNING_SECRET"
	AuditActionMerchantStatus      AuditAction = "MERCHANT_STATUS"
	AuditActionDeliveryExhausted   AuditAction = "DELIVERY_EXHAUSTED"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	MerchantID   *uuid.UUID  `json:"merchant_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
