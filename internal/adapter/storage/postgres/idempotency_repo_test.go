package postgres

import (
	"context"
	"testing"
	"time"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)
	log := &domain.IdempotencyLog{
		Key:          domain.BuildIntentIdempotencyKey(uuid.New(), "ORDER-001"),
		IntentID:     uuid.New(),
		ResponseJSON: []byte(`{"status":"CREATED"}`),
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO idempotency_logs").
		WithArgs(log.Key, log.IntentID, log.ResponseJSON, log.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), tx, log)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepo_Create_DuplicateKey(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO idempotency_logs").
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: constraintIdempotencyKey})

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	err = repo.Create(context.Background(), tx, &domain.IdempotencyLog{Key: "intent:m:k"})
	assert.ErrorIs(t, err, domain.ErrIdempotencyKey)
}

func TestIdempotencyRepo_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)
	intentID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery("SELECT .+ FROM idempotency_logs WHERE key").
		WithArgs("intent:m:ORDER-001").
		WillReturnRows(pgxmock.NewRows([]string{"key", "intent_id", "response_json", "created_at"}).
			AddRow("intent:m:ORDER-001", intentID, []byte(`{"status":"CREATED"}`), now))

	result, err := repo.Get(context.Background(), "intent:m:ORDER-001")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, intentID, result.IntentID)
	assert.Equal(t, []byte(`{"status":"CREATED"}`), result.ResponseJSON)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyRepo_Get_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewIdempotencyRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM idempotency_logs WHERE key").
		WithArgs("nonexistent-key").
		WillReturnRows(pgxmock.NewRows([]string{"key", "intent_id", "response_json", "created_at"}))

	result, err := repo.Get(context.Background(), "nonexistent-key")
	assert.NoError(t, err)
	assert.Nil(t, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAuditRepo(mock)
	merchantID := uuid.New()
	log := &domain.AuditLog{
		ID:           uuid.New(),
		MerchantID:   &merchantID,
		Action:       domain.AuditActionCreateIntent,
		ResourceType: "payment_intent",
		ResourceID:   uuid.NewString(),
		IPAddress:    "10.0.0.1",
		CreatedAt:    time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(log.ID, log.MerchantID, "CREATE_INTENT", log.ResourceType,
			log.ResourceID, log.Details, log.IPAddress, log.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Create(context.Background(), log))
	assert.NoError(t, mock.ExpectationsWereMet())
}
