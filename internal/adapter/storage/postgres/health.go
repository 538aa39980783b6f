package postgres

import (
	"context"
	"errors"
	"fmt"
)

var errReadOnly = errors.New("connected to a read-only standby")

// HealthCheck implements ports.HealthChecker for PostgreSQL.
type HealthCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

// Ping fails when the server is unreachable or cannot accept writes.
func (h *HealthCheck) Ping(ctx context.Context) error {
	var inRecovery bool
	if err := h.pool.QueryRow(ctx, "SELECT pg_is_in_recovery()").Scan(&inRecovery); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	if inRecovery {
		return errReadOnly
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "postgresql"
}
