package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType is the closed set of webhook events.
type EventType string

const (
	EventPaymentAwaitingConfirmation EventType = "payment.awaiting_confirmation"
	EventPaymentConfirmed            EventType = "payment.confirmed"
	EventPaymentUnderpaid            EventType = "payment.underpaid"
	EventPaymentExpired              EventType = "payment.expired"
	EventPaymentFailed               EventType = "payment.failed"
	EventPaymentReopened             EventType = "payment.reopened"
)

// EventForStatus maps the target state of a transition to its event.
func EventForStatus(s IntentStatus) (EventType, bool) {
	switch s {
	case IntentStatusAwaitingConfirmation:
		return EventPaymentAwaitingConfirmation, true
	case IntentStatusConfirmed:
		return EventPaymentConfirmed, true
	case IntentStatusUnderpaid:
		return EventPaymentUnderpaid, true
	case IntentStatusExpired:
		return EventPaymentExpired, true
	case IntentStatusFailed:
		return EventPaymentFailed, true
	case IntentStatusCreated:
		return EventPaymentReopened, true
	}
	return "", false
}

// EventData is the intent snapshot carried by every event.
type EventData struct {
	ExpectedAmount        decimal.Decimal  `json:"expectedAmount"`
	ReceivedAmount        *decimal.Decimal `json:"receivedAmount,omitempty"`
	Currency              string           `json:"currency"`
	Chain                 string           `json:"chain"`
	DestinationAddress    string           `json:"destinationAddress"`
	TxHash                *string          `json:"txHash,omitempty"`
	BlockNumber           *uint64          `json:"blockNumber,omitempty"`
	Confirmations         int              `json:"confirmations"`
	RequiredConfirmations int              `json:"requiredConfirmations"`
	FailureReason         *string          `json:"failureReason,omitempty"`
	ExpiresAt             time.Time        `json:"expiresAt"`
}

// EventEnvelope is the JSON body POSTed to merchant webhooks.
type EventEnvelope struct {
	EventType       EventType    `json:"eventType"`
	PaymentIntentID uuid.UUID    `json:"paymentIntentId"`
	MerchantID      uuid.UUID    `json:"merchantId"`
	Status          IntentStatus `json:"status"`
	OccurredAt      time.Time    `json:"occurredAt"`
	Data            EventData    `json:"data"`
}

// NewEventEnvelope snapshots intent after a transition.
func NewEventEnvelope(eventType EventType, intent *PaymentIntent, at time.Time) EventEnvelope {
	return EventEnvelope{
		EventType:       eventType,
		PaymentIntentID: intent.ID,
		MerchantID:      intent.MerchantID,
		Status:          intent.Status,
		OccurredAt:      at.UTC(),
		Data: EventData{
			ExpectedAmount:        intent.ExpectedAmount,
			ReceivedAmount:        intent.ReceivedAmount,
			Currency:              intent.Currency,
			Chain:                 intent.Chain,
			DestinationAddress:    intent.DestinationAddress,
			TxHash:                intent.MatchedTxHash,
			BlockNumber:           intent.MatchedBlockNumber,
			Confirmations:         intent.Confirmations,
			RequiredConfirmations: intent.RequiredConfirmations,
			FailureReason:         intent.FailureReason,
			ExpiresAt:             intent.ExpiresAt.UTC(),
		},
	}
}

func (e EventEnvelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
