package service

import (
	"context"

	"crypto-payment-gateway/internal/core/ports"

	"github.com/rs/zerolog"
)

// Sweeper expires overdue intents in batches.
type Sweeper struct {
	intents   ports.PaymentIntentService
	batchSize int
	log       zerolog.Logger
}

func NewSweeper(intents ports.PaymentIntentService, batchSize int, log zerolog.Logger) *Sweeper {
	if batchSize < 1 {
		batchSize = 100
	}
	return &Sweeper{intents: intents, batchSize: batchSize, log: log}
}

// Sweep calls ExpireDue until a batch comes back short, so one tick drains
// the backlog without holding a single long transaction.
func (s *Sweeper) Sweep(ctx context.Context) error {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.intents.ExpireDue(ctx, s.batchSize)
		if err != nil {
			return err
		}
		total += n
		if n < s.batchSize {
			break
		}
	}

	if total > 0 {
		s.log.Info().Int("expired", total).Msg("sweeper: expired overdue intents")
	}
	return nil
}
