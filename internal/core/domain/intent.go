package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntentStatus is the lifecycle state of a payment intent.
type IntentStatus string

const (
	IntentStatusCreated              IntentStatus = "CREATED"
	IntentStatusAwaitingConfirmation IntentStatus = "AWAITING_CONFIRMATION"
	IntentStatusConfirmed            IntentStatus = "CONFIRMED"
	IntentStatusUnderpaid            IntentStatus = "UNDERPAID"
	IntentStatusExpired              IntentStatus = "EXPIRED"
	IntentStatusFailed               IntentStatus = "FAILED"
)

// Reopening (back to CREATED) is only legal from a reorg.
var intentTransitions = map[IntentStatus][]IntentStatus{
	IntentStatusCreated: {
		IntentStatusAwaitingConfirmation, IntentStatusExpired, IntentStatusFailed,
	},
	IntentStatusAwaitingConfirmation: {
		IntentStatusConfirmed, IntentStatusUnderpaid, IntentStatusExpired, IntentStatusFailed, IntentStatusCreated,
	},
	IntentStatusConfirmed: {IntentStatusFailed, IntentStatusCreated},
	IntentStatusUnderpaid: {IntentStatusFailed, IntentStatusCreated},
}

func (s IntentStatus) CanTransitionTo(next IntentStatus) bool {
	for _, allowed := range intentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s IntentStatus) IsTerminal() bool {
	return s == IntentStatusExpired || s == IntentStatusFailed
}

// IsCancellable reports whether an explicit cancel may move the intent to FAILED.
func (s IntentStatus) IsCancellable() bool {
	return s == IntentStatusCreated ||
		s == IntentStatusAwaitingConfirmation ||
		s == IntentStatusUnderpaid
}

func (s IntentStatus) Valid() bool {
	switch s {
	case IntentStatusCreated, IntentStatusAwaitingConfirmation, IntentStatusConfirmed,
		IntentStatusUnderpaid, IntentStatusExpired, IntentStatusFailed:
		return true
	}
	return false
}

// PaymentIntent is a merchant's expectation of an on-chain payment.
type PaymentIntent struct {
	ID                    uuid.UUID        `json:"id"`
	MerchantID            uuid.UUID        `json:"merchant_id"`
	ExpectedAmount        decimal.Decimal  `json:"expected_amount"`
	Currency              string           `json:"currency"`
	Chain                 string           `json:"chain"`
	DestinationAddress    string           `json:"destination_address"`
	Status                IntentStatus     `json:"status"`
	MatchedTxHash         *string          `json:"matched_tx_hash,omitempty"`
	MatchedBlockNumber    *uint64          `json:"matched_block_number,omitempty"`
	ReceivedAmount        *decimal.Decimal `json:"received_amount,omitempty"`
	Confirmations         int              `json:"confirmations"`
	RequiredConfirmations int              `json:"required_confirmations"`
	FailureReason         *string          `json:"failure_reason,omitempty"`
	Version               int64            `json:"-"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
	ExpiresAt             time.Time        `json:"expires_at"`
}

// IsOpen reports whether the intent can still accept a first match.
func (p *PaymentIntent) IsOpen(now time.Time) bool {
	return p.Status == IntentStatusCreated && now.Before(p.ExpiresAt)
}

func (p *PaymentIntent) HasMatch() bool {
	return p.MatchedTxHash != nil
}

// ClearMatch drops every field recorded by a match.
func (p *PaymentIntent) ClearMatch() {
	p.MatchedTxHash = nil
	p.MatchedBlockNumber = nil
	p.ReceivedAmount = nil
	p.Confirmations = 0
}

// IntentListParams filters a merchant's intent listing.
type IntentListParams struct {
	MerchantID uuid.UUID
	Status     *IntentStatus
	Page       int
	PageSize   int
}

func (p IntentListParams) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}
