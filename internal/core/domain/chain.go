package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transfer is a value movement observed on chain, native or token.
type Transfer struct {
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	BlockHash   string
	From        string
	To          string // EIP-55
	Currency    string
	Amount      decimal.Decimal
}

// BlockRef is a processed canonical block, kept for reorg detection.
type BlockRef struct {
	Number     uint64    `json:"number"`
	Hash       string    `json:"hash"`
	ParentHash string    `json:"parent_hash"`
	ObservedAt time.Time `json:"observed_at"`
}
