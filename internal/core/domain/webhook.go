package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus represents the state of a webhook delivery.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusExhausted DeliveryStatus = "EXHAUSTED"
)

func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusDelivered || s == DeliveryStatusExhausted
}

// WebhookDelivery is one outbox row: an event waiting to reach a merchant endpoint.
// AttemptCount never decreases and NextAttemptAt strictly increases while PENDING.
type WebhookDelivery struct {
	ID                   uuid.UUID      `json:"id"`
	PaymentIntentID      uuid.UUID      `json:"payment_intent_id"`
	MerchantID           uuid.UUID      `json:"merchant_id"`
	Sequence             int64          `json:"sequence"`
	EventType            EventType      `json:"event_type"`
	Payload              []byte         `json:"-"` // Exact bytes sent on every attempt
	PayloadHash          string         `json:"payload_hash"`
	SigningSecretVersion int            `json:"signing_secret_version"`
	AttemptCount         int            `json:"attempt_count"`
	NextAttemptAt        time.Time      `json:"next_attempt_at"`
	Status               DeliveryStatus `json:"status"`
	LastResponseCode     *int           `json:"last_response_code,omitempty"`
	LastError            *string        `json:"last_error,omitempty"`
	LockedUntil          *time.Time     `json:"-"`
	DeliveredAt          *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// AttemptResult is the outcome of a single delivery attempt, persisted by RecordAttempt.
type AttemptResult struct {
	DeliveryID    uuid.UUID
	Status        DeliveryStatus
	AttemptCount  int
	NextAttemptAt time.Time
	ResponseCode  *int
	Error         *string
	DeliveredAt   *time.Time
}

// HashPayload returns the sha256 hex digest stored alongside a payload.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
