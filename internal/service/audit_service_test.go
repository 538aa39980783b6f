package service

import (
	"context"
	"testing"
	"time"

	"crypto-payment-gateway/internal/clock"
	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func TestAuditService_Log_PersistsToRepo(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockAuditRepository(ctrl)
	svc := NewAuditService(mockRepo, nil, newTestLogger())

	done := make(chan *domain.AuditLog, 1)
	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, log *domain.AuditLog) error {
			done <- log
			return nil
		},
	)

	merchantID := uuid.New()
	svc.Log(context.Background(), &domain.AuditLog{
		ID:           uuid.New(),
		MerchantID:   &merchantID,
		Action:       domain.AuditActionCreateIntent,
		ResourceType: "payment_intent",
		ResourceID:   uuid.New().String(),
		IPAddress:    "127.0.0.1",
		CreatedAt:    time.Now(),
	})

	select {
	case got := <-done:
		assert.Equal(t, domain.AuditActionCreateIntent, got.Action)
	case <-time.After(2 * time.Second):
		t.Fatal("audit log not persisted in time")
	}
}

func TestAuditService_Log_SurvivesCancelledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockAuditRepository(ctrl)
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	svc := NewAuditService(mockRepo, clk, newTestLogger())

	done := make(chan *domain.AuditLog, 1)
	mockRepo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, log *domain.AuditLog) error {
			assert.NoError(t, ctx.Err())
			done <- log
			return nil
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Log(ctx, &domain.AuditLog{Action: domain.AuditActionLogin, ResourceType: "session"})

	select {
	case got := <-done:
		// Missing ID and timestamp are filled in.
		assert.NotEqual(t, uuid.Nil, got.ID)
		assert.Equal(t, clk.Now(), got.CreatedAt)
	case <-time.After(2 * time.Second):
		t.Fatal("audit log not persisted in time")
	}
}

func TestAuditService_Log_NilRepo(t *testing.T) {
	svc := NewAuditService(nil, nil, newTestLogger())

	merchantID := uuid.New()
	// Should not panic
	svc.Log(context.Background(), &domain.AuditLog{
		MerchantID:   &merchantID,
		Action:       domain.AuditActionLogin,
		ResourceType: "session",
		IPAddress:    "127.0.0.1",
	})

	time.Sleep(50 * time.Millisecond) // let goroutine run
}
