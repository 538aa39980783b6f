package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyLog stores the first response of a keyed create so replays return it.
type IdempotencyLog struct {
	Key          string    `json:"key"` // Format: "intent:merchant_id:idempotency_key"
	IntentID     uuid.UUID `json:"intent_id"`
	ResponseJSON []byte    `json:"response_json"`
	CreatedAt    time.Time `json:"created_at"`
}

// BuildIntentIdempotencyKey constructs the key for intent creation.
func BuildIntentIdempotencyKey(merchantID uuid.UUID, idempotencyKey string) string {
	return "intent:" + merchantID.String() + ":" + idempotencyKey
}
