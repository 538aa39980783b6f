package dto

import (
	"time"

	"crypto-payment-gateway/internal/core/domain"
)

// OnboardRequest is the request body for merchant onboarding.
type OnboardRequest struct {
	Email         string  `json:"email" binding:"required,email,max=254"`
	Password      string  `json:"password" binding:"required,min=8,max=128" sanitize:"trim"`
	BusinessName  string  `json:"business_name" binding:"required,min=1,max=100"`
	WalletAddress *string `json:"wallet_address,omitempty" binding:"omitempty,eth_addr" sanitize:"trim"`
	WebhookURL    *string `json:"webhook_url,omitempty" binding:"omitempty,safe_url" sanitize:"trim"`
}

// OnboardResponse carries the credentials shown exactly once.
type OnboardResponse struct {
	MerchantID    string `json:"merchant_id"`
	Status        string `json:"status"`
	APIKey        string `json:"api_key"`
	SigningSecret string `json:"signing_secret"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required" sanitize:"trim"`
}

type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// CreateIntentRequest is the body of POST /intents. Amount is a decimal string
// so no precision is lost in JSON.
type CreateIntentRequest struct {
	Amount     string `json:"amount" binding:"required,max=78"`
	Currency   string `json:"currency" binding:"required,min=2,max=10,safe_id"`
	TTLSeconds *int64 `json:"ttl_seconds,omitempty" binding:"omitempty,gt=0"`
}

type CancelIntentRequest struct {
	Reason string `json:"reason" binding:"max=200"`
}

// IntentResponse is the public view of a payment intent.
type IntentResponse struct {
	ID                    string  `json:"id"`
	PaymentAddress        string  `json:"payment_address"`
	ExpectedAmount        string  `json:"expected_amount"`
	Currency              string  `json:"currency"`
	Chain                 string  `json:"chain"`
	Status                string  `json:"status"`
	Confirmations         int     `json:"confirmations"`
	RequiredConfirmations int     `json:"required_confirmations"`
	MatchedTxHash         *string `json:"matched_tx_hash,omitempty"`
	MatchedBlockNumber    *uint64 `json:"matched_block_number,omitempty"`
	ReceivedAmount        *string `json:"received_amount,omitempty"`
	FailureReason         *string `json:"failure_reason,omitempty"`
	CreatedAt             string  `json:"created_at"`
	UpdatedAt             string  `json:"updated_at"`
	ExpiresAt             string  `json:"expires_at"`
}

func NewIntentResponse(p *domain.PaymentIntent) IntentResponse {
	resp := IntentResponse{
		ID:                    p.ID.String(),
		PaymentAddress:        p.DestinationAddress,
		ExpectedAmount:        p.ExpectedAmount.String(),
		Currency:              p.Currency,
		Chain:                 p.Chain,
		Status:                string(p.Status),
		Confirmations:         p.Confirmations,
		RequiredConfirmations: p.RequiredConfirmations,
		MatchedTxHash:         p.MatchedTxHash,
		MatchedBlockNumber:    p.MatchedBlockNumber,
		FailureReason:         p.FailureReason,
		CreatedAt:             p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:             p.UpdatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:             p.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if p.ReceivedAmount != nil {
		s := p.ReceivedAmount.String()
		resp.ReceivedAmount = &s
	}
	return resp
}

type UpdateWalletRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required,eth_addr"`
}

// UpdateWebhookRequest clears the endpoint when WebhookURL is null or empty.
type UpdateWebhookRequest struct {
	WebhookURL *string `json:"webhook_url" binding:"omitempty,safe_url" sanitize:"trim"`
}

// MerchantResponse is the merchant profile view.
type MerchantResponse struct {
	ID                   string  `json:"id"`
	Email                string  `json:"email"`
	BusinessName         string  `json:"business_name"`
	WalletAddress        *string `json:"wallet_address,omitempty"`
	WebhookURL           *string `json:"webhook_url,omitempty"`
	SigningSecretVersion int     `json:"signing_secret_version"`
	Status               string  `json:"status"`
	EmailVerified        bool    `json:"email_verified"`
	CreatedAt            string  `json:"created_at"`
}

func NewMerchantResponse(m *domain.Merchant) MerchantResponse {
	return MerchantResponse{
		ID:                   m.ID.String(),
		Email:                m.Email,
		BusinessName:         m.BusinessName,
		WalletAddress:        m.WalletAddress,
		WebhookURL:           m.WebhookURL,
		SigningSecretVersion: m.SigningSecretVersion,
		Status:               string(m.Status),
		EmailVerified:        m.EmailVerified,
		CreatedAt:            m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type RotateAPIKeyResponse struct {
	APIKey string `json:"api_key"`
}

type RotateSigningSecretResponse struct {
	Version       int    `json:"version"`
	SigningSecret string `json:"signing_secret"`
}

// SigningSecretResponse never exposes the secret itself.
type SigningSecretResponse struct {
	Version   int     `json:"version"`
	CreatedAt string  `json:"created_at"`
	RetiredAt *string `json:"retired_at,omitempty"`
}

func NewSigningSecretResponse(s *domain.SigningSecret) SigningSecretResponse {
	resp := SigningSecretResponse{
		Version:   s.Version,
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
	}
	if s.RetiredAt != nil {
		r := s.RetiredAt.UTC().Format(time.RFC3339)
		resp.RetiredAt = &r
	}
	return resp
}

// DeliveryResponse is a webhook outbox row as shown to merchants and operators.
type DeliveryResponse struct {
	ID                   string  `json:"id"`
	PaymentIntentID      string  `json:"payment_intent_id"`
	MerchantID           string  `json:"merchant_id"`
	Sequence             int64   `json:"sequence"`
	EventType            string  `json:"event_type"`
	PayloadHash          string  `json:"payload_hash"`
	SigningSecretVersion int     `json:"signing_secret_version"`
	AttemptCount         int     `json:"attempt_count"`
	Status               string  `json:"status"`
	NextAttemptAt        string  `json:"next_attempt_at"`
	LastResponseCode     *int    `json:"last_response_code,omitempty"`
	LastError            *string `json:"last_error,omitempty"`
	DeliveredAt          *string `json:"delivered_at,omitempty"`
	CreatedAt            string  `json:"created_at"`
}

func NewDeliveryResponse(d *domain.WebhookDelivery) DeliveryResponse {
	resp := DeliveryResponse{
		ID:                   d.ID.String(),
		PaymentIntentID:      d.PaymentIntentID.String(),
		MerchantID:           d.MerchantID.String(),
		Sequence:             d.Sequence,
		EventType:            string(d.EventType),
		PayloadHash:          d.PayloadHash,
		SigningSecretVersion: d.SigningSecretVersion,
		AttemptCount:         d.AttemptCount,
		Status:               string(d.Status),
		NextAttemptAt:        d.NextAttemptAt.UTC().Format(time.RFC3339),
		LastResponseCode:     d.LastResponseCode,
		LastError:            d.LastError,
		CreatedAt:            d.CreatedAt.UTC().Format(time.RFC3339),
	}
	if d.DeliveredAt != nil {
		s := d.DeliveredAt.UTC().Format(time.RFC3339)
		resp.DeliveredAt = &s
	}
	return resp
}
