package memory

import (
	"context"

	"crypto-payment-gateway/internal/core/domain"
)

// AuditRepo implements ports.AuditRepository; entries are append-only.
type AuditRepo struct {
	s *Store
}

func (r *AuditRepo) Create(_ context.Context, log *domain.AuditLog) error {
	r.s.mu.Lock()
	r.s.audit = append(r.s.audit, *log)
	r.s.mu.Unlock()
	return nil
}
