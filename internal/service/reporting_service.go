package service

import (
	"context"
	"time"

	"crypto-payment-gateway/internal/clock"
	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/pkg/apperror"

	"github.com/google/uuid"
)

// reportingService implements ports.ReportingService.
type reportingService struct {
	intentRepo   ports.PaymentIntentRepository
	deliveryRepo ports.WebhookDeliveryRepository
	clock        clock.Clock
}

// NewReportingService creates a new reporting service.
func NewReportingService(
	intentRepo ports.PaymentIntentRepository,
	deliveryRepo ports.WebhookDeliveryRepository,
	clk clock.Clock,
) ports.ReportingService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &reportingService{
		intentRepo:   intentRepo,
		deliveryRepo: deliveryRepo,
		clock:        clk,
	}
}

// GetIntentStats returns intent counts per status for the merchant.
func (s *reportingService) GetIntentStats(ctx context.Context, merchantID uuid.UUID, period string) (*ports.IntentStats, error) {
	var since *time.Time
	now := s.clock.Now()

	switch period {
	case "day":
		t := now.AddDate(0, 0, -1)
		since = &t
	case "week":
		t := now.AddDate(0, 0, -7)
		since = &t
	case "month":
		t := now.AddDate(0, -1, 0)
		since = &t
	case "all", "":
		// No time filter
	default:
		return nil, apperror.Validation("invalid period: must be day, week, month, or all")
	}

	counts, err := s.intentRepo.CountByStatus(ctx, merchantID, since)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	stats := &ports.IntentStats{ByStatus: counts, PeriodStart: since}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

func (s *reportingService) ListDeliveries(ctx context.Context, merchantID uuid.UUID, page, pageSize int) ([]domain.WebhookDelivery, int64, error) {
	page, pageSize = clampPage(page, pageSize)
	deliveries, total, err := s.deliveryRepo.ListByMerchant(ctx, merchantID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(err)
	}
	return deliveries, total, nil
}

// ListExhaustedDeliveries is the operator view of deliveries that will not be retried.
func (s *reportingService) ListExhaustedDeliveries(ctx context.Context, page, pageSize int) ([]domain.WebhookDelivery, int64, error) {
	page, pageSize = clampPage(page, pageSize)
	deliveries, total, err := s.deliveryRepo.ListExhausted(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(err)
	}
	return deliveries, total, nil
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
