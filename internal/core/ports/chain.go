package ports

//go:generate mockgen -source=chain.go -destination=mocks/mock_chain.go -package=mocks

import (
	"context"

	"crypto-payment-gateway/internal/core/domain"
)

// ChainClient is the watcher's read-only view of a blockchain.
type ChainClient interface {
	LatestBlock(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number uint64) (*domain.BlockRef, error)
	// Transfers returns value movements to recipients within [from, to],
	// ordered by block number and log index.
	Transfers(ctx context.Context, from, to uint64, recipients []string) ([]domain.Transfer, error)
}
