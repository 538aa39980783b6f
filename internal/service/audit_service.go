package service

import (
	"context"

	"crypto-payment-gateway/internal/clock"
	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type auditService struct {
	repo  ports.AuditRepository
	clock clock.Clock
	log   zerolog.Logger
}

// NewAuditService creates a new audit service.
// If repo is nil, audit logs are only written to the logger.
func NewAuditService(repo ports.AuditRepository, clk clock.Clock, log zerolog.Logger) ports.AuditService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &auditService{repo: repo, clock: clk, log: log}
}

// Log records an audit entry asynchronously (fire-and-forget).
// The request context may be cancelled before the write lands, so only its values are kept.
func (s *auditService) Log(ctx context.Context, entry *domain.AuditLog) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	bg := context.WithoutCancel(ctx)

	go func() {
		ev := s.log.Info().
			Str("action", string(entry.Action)).
			Str("resource_type", entry.ResourceType).
			Str("resource_id", entry.ResourceID).
			Str("ip", entry.IPAddress)
		if entry.MerchantID != nil {
			ev = ev.Str("merchant_id", entry.MerchantID.String())
		}
		ev.Msg("audit")

		if s.repo != nil {
			if err := s.repo.Create(bg, entry); err != nil {
				s.log.Warn().Err(err).Str("action", string(entry.Action)).Msg("failed to persist audit log")
			}
		}
	}()
}
