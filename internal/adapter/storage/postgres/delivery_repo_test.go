package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDelivery() *domain.WebhookDelivery {
	now := time.Now().UTC().Truncate(time.Microsecond)
	payload := []byte(`{"event_type":"payment.confirmed"}`)
	return &domain.WebhookDelivery{
		ID:                   uuid.New(),
		PaymentIntentID:      uuid.New(),
		MerchantID:           uuid.New(),
		EventType:            domain.EventPaymentConfirmed,
		Payload:              payload,
		PayloadHash:          domain.HashPayload(payload),
		SigningSecretVersion: 1,
		NextAttemptAt:        now,
		Status:               domain.DeliveryStatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func deliveryCols() []string {
	return []string{"id", "payment_intent_id", "merchant_id", "sequence", "event_type", "payload", "payload_hash",
		"signing_secret_version", "attempt_count", "next_attempt_at", "status", "last_response_code", "last_error",
		"locked_until", "delivered_at", "created_at", "updated_at"}
}

func deliveryRows(deliveries ...*domain.WebhookDelivery) *pgxmock.Rows {
	rows := pgxmock.NewRows(deliveryCols())
	for _, d := range deliveries {
		rows.AddRow(
			d.ID, d.PaymentIntentID, d.MerchantID, d.Sequence, d.EventType, d.Payload, d.PayloadHash,
			d.SigningSecretVersion, d.AttemptCount, d.NextAttemptAt, d.Status, d.LastResponseCode, d.LastError,
			d.LockedUntil, d.DeliveredAt, d.CreatedAt, d.UpdatedAt,
		)
	}
	return rows
}

func TestDeliveryRepo_Create_AssignsSequence(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	d := newTestDelivery()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO webhook_deliveries .+ RETURNING sequence").
		WithArgs(d.ID, d.PaymentIntentID, d.MerchantID, d.EventType, d.Payload, d.PayloadHash,
			d.SigningSecretVersion, d.AttemptCount, d.NextAttemptAt, d.Status, d.CreatedAt, d.UpdatedAt).
		WillReturnRows(pgxmock.NewRows([]string{"sequence"}).AddRow(int64(42)))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	require.NoError(t, repo.Create(context.Background(), tx, d))
	assert.Equal(t, int64(42), d.Sequence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_ClaimDue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	now := time.Now().UTC()
	lease := 30 * time.Second
	d := newTestDelivery()
	d.Sequence = 3
	lockedUntil := now.Add(lease)
	d.LockedUntil = &lockedUntil

	mock.ExpectQuery("UPDATE webhook_deliveries SET locked_until .+ NOT EXISTS .+ FOR UPDATE SKIP LOCKED .+ RETURNING").
		WithArgs(now, lockedUntil, domain.DeliveryStatusPending, 10).
		WillReturnRows(deliveryRows(d))

	got, err := repo.ClaimDue(context.Background(), now, 10, lease)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, d.ID, got[0].ID)
	assert.Equal(t, int64(3), got[0].Sequence)
	assert.Equal(t, d.Payload, got[0].Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_ClaimDue_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	mock.ExpectQuery("UPDATE webhook_deliveries").WillReturnError(errors.New("connection reset"))

	_, err = repo.ClaimDue(context.Background(), time.Now(), 10, time.Second)
	assert.ErrorContains(t, err, "claim due deliveries")
}

func TestDeliveryRepo_RecordAttempt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	code := 200
	delivered := time.Now().UTC()
	res := domain.AttemptResult{
		DeliveryID:    uuid.New(),
		Status:        domain.DeliveryStatusDelivered,
		AttemptCount:  2,
		NextAttemptAt: delivered,
		ResponseCode:  &code,
		DeliveredAt:   &delivered,
	}

	mock.ExpectExec("UPDATE webhook_deliveries .+ WHERE id=\\$7 AND attempt_count < \\$2").
		WithArgs(res.Status, res.AttemptCount, res.NextAttemptAt, res.ResponseCode, res.Error, res.DeliveredAt, res.DeliveryID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.RecordAttempt(context.Background(), res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_RecordAttempt_StaleIsIgnored(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	mock.ExpectExec("UPDATE webhook_deliveries").WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.NoError(t, repo.RecordAttempt(context.Background(), domain.AttemptResult{DeliveryID: uuid.New(), AttemptCount: 1}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_Release(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	id := uuid.New()
	mock.ExpectExec("UPDATE webhook_deliveries SET locked_until = NULL WHERE id").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.Release(context.Background(), id))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	id := uuid.New()
	mock.ExpectQuery("SELECT .+ FROM webhook_deliveries WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(deliveryCols()))

	got, err := repo.GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeliveryRepo_ListByMerchant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	d := newTestDelivery()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM webhook_deliveries WHERE merchant_id").
		WithArgs(d.MerchantID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT .+ FROM webhook_deliveries WHERE merchant_id = \\$1 .+ LIMIT \\$2 OFFSET \\$3").
		WithArgs(d.MerchantID, 20, 0).
		WillReturnRows(deliveryRows(d))

	got, total, err := repo.ListByMerchant(context.Background(), d.MerchantID, 20, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, got, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepo_ListExhausted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	d := newTestDelivery()
	d.Status = domain.DeliveryStatusExhausted
	d.AttemptCount = 8

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM webhook_deliveries WHERE status").
		WithArgs(domain.DeliveryStatusExhausted).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery("SELECT .+ FROM webhook_deliveries WHERE status = \\$1").
		WithArgs(domain.DeliveryStatusExhausted, 50, 50).
		WillReturnRows(deliveryRows(d))

	got, total, err := repo.ListExhausted(context.Background(), 50, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, got, 1)
	assert.Equal(t, 8, got[0].AttemptCount)
}

func TestDeliveryRepo_ListByIntent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRepo(mock)
	first, second := newTestDelivery(), newTestDelivery()
	first.Sequence, second.Sequence = 1, 2
	second.PaymentIntentID = first.PaymentIntentID

	mock.ExpectQuery("SELECT .+ FROM webhook_deliveries WHERE payment_intent_id = \\$1 ORDER BY sequence").
		WithArgs(first.PaymentIntentID).
		WillReturnRows(deliveryRows(first, second))

	got, err := repo.ListByIntent(context.Background(), first.PaymentIntentID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Sequence)
	assert.Equal(t, int64(2), got[1].Sequence)
}
