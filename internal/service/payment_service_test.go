package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"crypto-payment-gateway/internal/clock"
	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/internal/core/ports/mocks"
	"crypto-payment-gateway/internal/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testWallet = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

type intentDeps struct {
	ctrl         *gomock.Controller
	intentRepo   *mocks.MockPaymentIntentRepository
	merchantRepo *mocks.MockMerchantRepository
	idempRepo    *mocks.MockIdempotencyRepository
	idempCache   *mocks.MockIdempotencyCache
	events       *mocks.MockEventEnqueuer
	transactor   *mocks.MockDBTransactor
	clock        *clock.FakeClock
}

func testIntentConfig() IntentConfig {
	return IntentConfig{
		Chain:                 "ethereum",
		Currencies:            []string{"ETH", "USDC"},
		RequiredConfirmations: 3,
		DefaultTTL:            30 * time.Minute,
		MaxTTL:                24 * time.Hour,
		Tolerance:             decimal.Zero,
		ReorgPolicy:           ReorgPolicyReopen,
	}
}

func setupIntentService(t *testing.T, cfg IntentConfig) (*PaymentIntentServiceImpl, *intentDeps) {
	ctrl := gomock.NewController(t)
	d := &intentDeps{
		ctrl:         ctrl,
		intentRepo:   mocks.NewMockPaymentIntentRepository(ctrl),
		merchantRepo: mocks.NewMockMerchantRepository(ctrl),
		idempRepo:    mocks.NewMockIdempotencyRepository(ctrl),
		idempCache:   mocks.NewMockIdempotencyCache(ctrl),
		events:       mocks.NewMockEventEnqueuer(ctrl),
		transactor:   mocks.NewMockDBTransactor(ctrl),
		clock:        clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	svc := NewPaymentIntentService(d.intentRepo, d.merchantRepo, d.idempRepo, d.idempCache, d.events, d.transactor,
		cfg, d.clock, metrics.New(), newTestLogger())
	return svc, d
}

func receivingMerchant() *domain.Merchant {
	wallet := testWallet
	return &domain.Merchant{ID: uuid.New(), Status: domain.MerchantStatusActive, WalletAddress: &wallet}
}

func (d *intentDeps) openIntent(expected string) *domain.PaymentIntent {
	now := d.clock.Now()
	return &domain.PaymentIntent{
		ID:                    uuid.New(),
		MerchantID:            uuid.New(),
		ExpectedAmount:        decimal.RequireFromString(expected),
		Currency:              "ETH",
		Chain:                 "ethereum",
		DestinationAddress:    testWallet,
		Status:                domain.IntentStatusCreated,
		RequiredConfirmations: 3,
		Version:               1,
		CreatedAt:             now,
		UpdatedAt:             now,
		ExpiresAt:             now.Add(30 * time.Minute),
	}
}

// expectLocked wires Begin + GetByIDForUpdate for a transition.
func (d *intentDeps) expectLocked(intent *domain.PaymentIntent) {
	d.transactor.EXPECT().Begin(gomock.Any()).Return(&mockTx{}, nil)
	d.intentRepo.EXPECT().GetByIDForUpdate(gomock.Any(), gomock.Any(), intent.ID).Return(intent, nil)
}

// expectPersist accepts the versioned write and records the enqueued event types.
func (d *intentDeps) expectPersist(expectedVersion int64) *[]domain.EventType {
	var got []domain.EventType
	d.intentRepo.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any(), expectedVersion).DoAndReturn(
		func(_ context.Context, _ any, intent *domain.PaymentIntent, v int64) error {
			intent.Version = v + 1
			return nil
		})
	d.events.EXPECT().Enqueue(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, req ports.EnqueueRequest) error {
			got = append(got, req.EventType)
			return nil
		}).AnyTimes()
	return &got
}

func TestPaymentIntentService_CreateIntent_Success(t *testing.T) {
	svc, d := setupIntentService(t, testIntentConfig())
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchant := receivingMerchant()

	// Expect: merchant lookup, then intent insert in a transaction
	d.merchantRepo.EXPECT().GetByID(ctx, merchant.ID).Return(merchant, nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.intentRepo.EXPECT().Create(ctx, gomock.Any(), gomock.Any()).Return(nil)

	intent, err := svc.CreateIntent(ctx, ports.CreateIntentRequest{
		MerchantID: merchant.ID,
		Amount:     decimal.RequireFromString("0.25"),
		Currency:   "eth",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.IntentStatusCreated, intent.Status)
	assert.Equal(t, "ETH", intent.Currency)
	assert.Equal(t, testWallet, intent.DestinationAddress)
	assert.Equal(t, 3, intent.RequiredConfirmations)
	assert.Equal(t, d.clock.Now().Add(30*time.Minute), intent.ExpiresAt)
	assert.Nil(t, intent.MatchedTxHash)
}

func TestPaymentIntentService_CreateIntent_Validation(t *testing.T) {
	longTTL := 48 * time.Hour
	zeroTTL := time.Duration(0)

	tests := []struct {
		name string
		req  ports.CreateIntentRequest
		code string
	}{
		{"zero amount", ports.CreateIntentRequest{Amount: decimal.Zero, Currency: "ETH"}, "PAY_002"},
		{"negative amount", ports.CreateIntentRequest{Amount: decimal.NewFromInt(-1), Currency: "ETH"}, "PAY_002"},
		{"unsupported currency", ports.CreateIntentRequest{Amount: decimal.NewFromInt(1), Currency: "DOGE"}, "VAL_002"},
		{"ttl over max", ports.CreateIntentRequest{Amount: decimal.NewFromInt(1), Currency: "ETH", TTL: &longTTL}, "VAL_002"},
		{"zero ttl", ports.CreateIntentRequest{Amount: decimal.NewFromInt(1), Currency: "ETH", TTL: &zeroTTL}, "VAL_002"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, d := setupIntentService(t, testIntentConfig())
			defer d.ctrl.Finish()

			_, err := svc.CreateIntent(context.Background(), tt.req)
			assertAppError(t, err, tt.code)
		})
	}
}

func TestPaymentIntentService_CreateIntent_MerchantCannotReceive(t *testing.T) {
	tests := []struct {
		name     string
		merchant *domain.Merchant
	}{
		{"unknown", nil},
		{"pending", &domain.Merchant{ID: uuid.New(), Status: domain.MerchantStatusPending, WalletAddress: ptrString(testWallet)}},
		{"no wallet", &domain.Merchant{ID: uuid.New(), Status: domain.MerchantStatusActive}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, d := setupIntentService(t, testIntentConfig())
			defer d.ctrl.Finish()

			d.merchantRepo.EXPECT().GetByID(gomock.Any(), gomock.Any()).Return(tt.merchant, nil)

			_, err := svc.CreateIntent(context.Background(), ports.CreateIntentRequest{
				MerchantID: uuid.New(), Amount: decimal.NewFromInt(1), Currency: "ETH",
			})
			assertAppError(t, err, "PAY_010")
		})
	}
}

func TestPaymentIntentService_CreateIntent_IdempotentFirstCall(t *testing.T) {
	svc, d := setupIntentService(t, testIntentConfig())
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchant := receivingMerchant()
	key := domain.BuildIntentIdempotencyKey(merchant.ID, "order-42")

	// Expect: cache and DB miss, then intent + idempotency log in one tx, then cache fill
	d.idempCache.EXPECT().Get(ctx, key).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, key).Return(nil, nil)
	d.merchantRepo.EXPECT().GetByID(ctx, merchant.ID).Return(merchant, nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.intentRepo.EXPECT().Create(ctx, gomock.Any(), gomock.Any()).Return(nil)
	d.idempRepo.EXPECT().Create(ctx, gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, log *domain.IdempotencyLog) error {
			assert.Equal(t, key, log.Key)
			assert.NotEmpty(t, log.ResponseJSON)
			return nil
		})
	d.idempCache.EXPECT().Set(ctx, key, gomock.Any(), idempotencyTTL).Return(nil)

	intent, err := svc.CreateIntent(ctx, ports.CreateIntentRequest{
		MerchantID:     merchant.ID,
		Amount:         decimal.NewFromInt(5),
		Currency:       "USDC",
		IdempotencyKey: "order-42",
	})
	require.NoError(t, err)
	assert.Equal(t, "USDC", intent.Currency)
}

func TestPaymentIntentService_CreateIntent_IdempotentReplay(t *testing.T) {
	svc, d := setupIntentService(t, testIntentConfig())
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchantID := uuid.New()
	key := domain.BuildIntentIdempotencyKey(merchantID, "order-42")

	original := d.openIntent("5")
	snapshot, err := json.Marshal(original)
	require.NoError(t, err)

	current := *original
	current.Status = domain.IntentStatusAwaitingConfirmation

	// Expect: cache hit, replay reflects the current state
	d.idempCache.EXPECT().Get(ctx, key).Return(snapshot, nil)
	d.intentRepo.EXPECT().GetByID(ctx, original.ID).Return(&current, nil)

	got, err := svc.CreateIntent(ctx, ports.CreateIntentRequest{
		MerchantID:     merchantID,
		Amount:         decimal.NewFromInt(5),
		Currency:       "ETH",
		IdempotencyKey: "order-42",
	})
	require.NoError(t, err)
	assert.Equal(t, original.ID, got.ID)
	assert.Equal(t, domain.IntentStatusAwaitingConfirmation, got.Status)
}

func TestPaymentIntentService_CreateIntent_IdempotencyRace(t *testing.T) {
	svc, d := setupIntentService(t, testIntentConfig())
	defer d.ctrl.Finish()

	ctx := context.Background()
	merchant := receivingMerchant()
	key := domain.BuildIntentIdempotencyKey(merchant.ID, "k")

	winner := d.openIntent("1")
	winnerJSON, err := json.Marshal(winner)
	require.NoError(t, err)

	gomock.InOrder(
		d.idempCache.EXPECT().Get(ctx, key).Return(nil, nil),
		d.idempRepo.EXPECT().Get(ctx, key).Return(nil, nil),
	)
	d.merchantRepo.EXPECT().GetByID(ctx, merchant.ID).Return(merchant, nil)
	d.transactor.EXPECT().Begin(ctx).Return(&mockTx{}, nil)
	d.intentRepo.EXPECT().Create(ctx, gomock.Any(), gomock.Any()).Return(nil)
	// Expect: unique violation on the key, then the winner is looked up
	d.idempRepo.EXPECT().Create(ctx, gomock.Any(), gomock.Any()).Return(domain.ErrIdempotencyKey)
	d.idempCache.EXPECT().Get(ctx, key).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, key).Return(&domain.IdempotencyLog{Key: key, IntentID: winner.ID, ResponseJSON: winnerJSON}, nil)
	d.intentRepo.EXPECT().GetByID(ctx, winner.ID).Return(winner, nil)

	got, err := svc.CreateIntent(ctx, ports.CreateIntentRequest{
		MerchantID: merchant.ID, Amount: decimal.NewFromInt(1), Currency: "ETH", IdempotencyKey: "k",
	})
	require.NoError(t, err)
	assert.Equal(t, winner.ID, got.ID)
}

func TestPaymentIntentService_GetIntent_OtherMerchant(t *testing.T) {
	svc, d := setupIntentService(t, testIntentConfig())
	defer d.ctrl.Finish()

	intent := d.openIntent("1")
	d.intentRepo.EXPECT().GetByID(gomock.Any(), intent.ID).Return(intent, nil)

	_, err := svc.GetIntent(context.Background(), uuid.New(), intent.ID)
	assertAppError(t, err, "PAY_004")
}

func TestPaymentIntentService_ListIntents_InvalidStatus(t *testing.T) {
	svc, d := setupIntentService(t, testIntentConfig())
	defer d.ctrl.Finish()

	bogus := domain.IntentStatus("PAID")
	_, _, err := svc.ListIntents(context.Background(), domain.IntentListParams{Status: &bogus})
	assertAppError(t, err, "VAL_002")
}

func TestPaymentIntentService_RecordMatch(t *testing.T) {
	tests := []struct {
		name          string
		amount        string
		tolerance     string
		confirmations int
		wantStatus    domain.IntentStatus
		wantEvents    []domain.EventType
	}{
		{
			name: "exact amount, unconfirmed", amount: "1.5", tolerance: "0", confirmations: 1,
			wantStatus: domain.IntentStatusAwaitingConfirmation,
			wantEvents: []domain.EventType{domain.EventPaymentAwaitingConfirmation},
		},
		{
			name: "exact amount, already deep", amount: "1.5", tolerance: "0", confirmations: 3,
			wantStatus: domain.IntentStatusConfirmed,
			wantEvents: []domain.EventType{domain.EventPaymentAwaitingConfirmation, domain.EventPaymentConfirmed},
		},
		{
			name: "overpaid", amount: "2", tolerance: "0", confirmations: 0,
			wantStatus: domain.IntentStatusAwaitingConfirmation,
			wantEvents: []domain.EventType{domain.EventPaymentAwaitingConfirmation},
		},
		{
			name: "underpaid", amount: "1.4", tolerance: "0", confirmations: 5,
			wantStatus: domain.IntentStatusUnderpaid,
			wantEvents: []domain.EventType{domain.EventPaymentAwaitingConfirmation, domain.EventPaymentUnderpaid},
		},
		{
			name: "short but within tolerance", amount: "1.45", tolerance: "0.05", confirmations: 0,
			wantStatus: domain.IntentStatusAwaitingConfirmation,
			wantEvents: []domain.EventType{domain.EventPaymentAwaitingConfirmation},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testIntentConfig()
			cfg.Tolerance = decimal.RequireFromString(tt.tolerance)
			svc, d := setupIntentService(t, cfg)
			defer d.ctrl.Finish()

			intent := d.openIntent("1.5")
			d.expectLocked(intent)
			events := d.expectPersist(1)

			got, err := svc.RecordMatch(context.Background(), ports.MatchRequest{
				IntentID:      intent.ID,
				TxHash:        "ABCDEF01",
				Amount:        decimal.RequireFromString(tt.amount),
				Confirmations: tt.confirmations,
				BlockNumber:   100,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantEvents, *events)
			require.NotNil(t, got.MatchedTxHash)
			assert.Equal(t, "0xabcdef01", *got.MatchedTxHash)
			assert.Equal(t, uint64(100), *got.MatchedBlockNumber)
			assert.Equal(t, int64(2), got.Version)
		})
	}
}

func TestPaymentIntentService_RecordMatch_SameHashRaisesConfirmations(t *testing.T) {
	svc, d := setupIntentService(t, testIntentConfig())
	defer d.ctrl.Finish()

	intent := d.openIntent("1")
	hash := "0xfeed"
	block := uint64(10)
	amount := decimal.NewFromInt(1)
	intent.Status = domain.IntentStatusAwaitingConfirmation
	intent.MatchedTxHash = &hash
	intent.MatchedBlockNumber = &block
	intent.ReceivedAmount = &amount
	intent.Confirmations = 1
	intent.Version = 4

	d.expectLocked(intent)
	events := d.expectPersist(4)

	got, err := svc.RecordMatch(context.Background(), ports.MatchRequest{
		IntentID: intent.ID, TxHash: hash, Amount: amount, Confirmations: 3, BlockNumber: block,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusConfirmed, got.Status)
	assert.Equal(t, 3, got.Confirmations)
	assert.Equal(t, []domain.EventType{domain.EventPaymentConfirmed}, *events)
}

func TestPaymentIntentService_RecordMatch_NoChange(t *testing.T) {
	svc, d := setupIntentService(t, testIntentConfig())
	defer d.ctrl.Finish()

	intent := d.openIntent("1")
	hash := "0xfeed"
	intent.Status = domain.IntentStatusAwaitingConfirmation
	intent.MatchedTxHash = &hash
	intent.Confirmations = 2

	// Expect: lower confirmation count is ignored without a write
	d.expectLocked(intent)

	got, err := svc.RecordMatch(context.Background(), ports.MatchRequest{
		IntentID: intent.ID, TxHash: hash, Amount: decimal.NewFromInt(1), Confirmations: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Confirmations)
}

func TestPaymentIntentService_RecordMatch_Rejections(t *testing.T) {
	t.Run("different hash", func(t *testing.T) {
		svc, d := setupIntentService(t, testIntentConfig())
		defer d.ctrl.Finish()

		intent := d.openIntent("1")
		hash := "0xaaaa"
		intent.Status = domain.IntentStatusAwaitingConfirmation
		intent.MatchedTxHash = &hash
		d.expectLocked(intent)

		_, err := svc.RecordMatch(context.Background(), ports.MatchRequest{
			IntentID: intent.ID, TxHash: "0xbbbb", Amount: decimal.NewFromInt(1),
		})
		assertAppError(t, err, "PAY_012")
	})

	t.Run("expired by clock", func(t *testing.T) {
		svc, d := setupIntentService(t, testIntentConfig())
		defer d.ctrl.Finish()

		intent := d.openIntent("1")
		d.clock.Advance(31 * time.Minute)
		d.expectLocked(intent)

		_, err := svc.RecordMatch(context.Background(), ports.MatchRequest{
			IntentID: intent.ID, TxHash: "0xbbbb", Amount: decimal.NewFromInt(1),
		})
		assertAppError(t, err, "PAY_011")
	})

	t.Run("hash claimed by another intent", func(t *testing.T) {
		svc, d := setupIntentService(t, testIntentConfig())
		defer d.ctrl.Finish()

		intent := d.openIntent("1")
		d.expectLocked(intent)
		d.intentRepo.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any(), int64(1)).Return(domain.ErrTxHashClaimed)

		_, err := svc.RecordMatch(context.Background(), ports.MatchRequest{
			IntentID: intent.ID, TxHash: "0xbbbb", Amount: decimal.NewFromInt(1),
		})
		assertAppError(t, err, "PAY_003")
	})

	t.Run("version conflict", func(t *testing.T) {
		svc, d := setupIntentService(t, testIntentConfig())
		defer d.ctrl.Finish()

		intent := d.openIntent("1")
		d.expectLocked(intent)
		d.intentRepo.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any(), int64(1)).Return(domain.ErrVersionConflict)

		_, err := svc.RecordMatch(context.Background(), ports.MatchRequest{
			IntentID: intent.ID, TxHash: "0xbbbb", Amount: decimal.NewFromInt(1),
		})
		assertAppError(t, err, "SYS_004")
	})

	t.Run("unknown intent", func(t *testing.T) {
		svc, d := setupIntentService(t, testIntentConfig())
		defer d.ctrl.Finish()

		d.transactor.EXPECT().Begin(gomock.Any()).Return(&mockTx{}, nil)
		d.intentRepo.EXPECT().GetByIDForUpdate(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil)

		_, err := svc.RecordMatch(context.Background(), ports.MatchRequest{
			IntentID: uuid.New(), TxHash: "0xbbbb", Amount: decimal.NewFromInt(1),
		})
		assertAppError(t, err, "PAY_004")
	})
}

func matchedIntent(d *intentDeps, status domain.IntentStatus, hash string) *domain.PaymentIntent {
	intent := d.openIntent("1")
	block := uint64(50)
	amount := decimal.NewFromInt(1)
	intent.Status = status
	intent.MatchedTxHash = &hash
	intent.MatchedBlockNumber = &block
	intent.ReceivedAmount = &amount
	intent.Confirmations = 3
	return intent
}

func TestPaymentIntentService_InvalidateMatch_Reopen(t *testing.T) {
	svc, d := setupIntentService(t, testIntentConfig())
	defer d.ctrl.Finish()

	intent := matchedIntent(d, domain.IntentStatusConfirmed, "0xdead")
	d.expectLocked(intent)
	events := d.expectPersist(1)

	got, err := svc.InvalidateMatch(context.Background(), intent.ID, "0xDEAD", "reorg at block 50")
	require.NoError(t, err)

	assert.Equal(t, domain.IntentStatusCreated, got.Status)
	assert.Nil(t, got.MatchedTxHash)
	assert.Nil(t, got.ReceivedAmount)
	assert.Zero(t, got.Confirmations)
	assert.Equal(t, []domain.EventType{domain.EventPaymentReopened}, *events)
}

func TestPaymentIntentService_InvalidateMatch_FailPolicy(t *testing.T) {
	cfg := testIntentConfig()
	cfg.ReorgPolicy = ReorgPolicyFail
	svc, d := setupIntentService(t, cfg)
	defer d.ctrl.Finish()

	intent := matchedIntent(d, domain.IntentStatusAwaitingConfirmation, "0xdead")
	d.expectLocked(intent)
	events := d.expectPersist(1)

	got, err := svc.InvalidateMatch(context.Background(), intent.ID, "0xdead", "reorg")
	require.NoError(t, err)

	assert.Equal(t, domain.IntentStatusFailed, got.Status)
	require.NotNil(t, got.MatchedTxHash)
	assert.Equal(t, "0xdead", *got.MatchedTxHash)
	assert.Equal(t, "reorg", *got.FailureReason)
	assert.Equal(t, []domain.EventType{domain.EventPaymentFailed}, *events)
}

func TestPaymentIntentService_InvalidateMatch_TerminalReleasesHash(t *testing.T) {
	svc, d := setupIntentService(t, testIntentConfig())
	defer d.ctrl.Finish()

	intent := matchedIntent(d, domain.IntentStatusExpired, "0xdead")
	d.expectLocked(intent)
	events := d.expectPersist(1)

	got, err := svc.InvalidateMatch(context.Background(), intent.ID, "0xdead", "reorg")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusExpired, got.Status)
	assert.Nil(t, got.MatchedTxHash)
	assert.Empty(t, *events)
}

func TestPaymentIntentService_InvalidateMatch_OtherHashNoop(t *testing.T) {
	svc, d := setupIntentService(t, testIntentConfig())
	defer d.ctrl.Finish()

	intent := matchedIntent(d, domain.IntentStatusConfirmed, "0xdead")
	d.expectLocked(intent)

	got, err := svc.InvalidateMatch(context.Background(), intent.ID, "0xbeef", "reorg")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusConfirmed, got.Status)
}

func TestPaymentIntentService_Cancel(t *testing.T) {
	tests := []struct {
		status domain.IntentStatus
		code   string
	}{
		{domain.IntentStatusCreated, ""},
		{domain.IntentStatusAwaitingConfirmation, ""},
		{domain.IntentStatusUnderpaid, ""},
		{domain.IntentStatusConfirmed, "PAY_009"},
		{domain.IntentStatusExpired, "PAY_009"},
		{domain.IntentStatusFailed, "PAY_009"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			svc, d := setupIntentService(t, testIntentConfig())
			defer d.ctrl.Finish()

			intent := d.openIntent("1")
			intent.Status = tt.status
			d.expectLocked(intent)
			if tt.code == "" {
				d.expectPersist(1)
			}

			got, err := svc.Cancel(context.Background(), intent.ID, &intent.MerchantID, "")
			if tt.code != "" {
				assertAppError(t, err, tt.code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, domain.IntentStatusFailed, got.Status)
			assert.Equal(t, "cancelled", *got.FailureReason)
		})
	}
}

func TestPaymentIntentService_Cancel_WrongMerchant(t *testing.T) {
	svc, d := setupIntentService(t, testIntentConfig())
	defer d.ctrl.Finish()

	intent := d.openIntent("1")
	d.expectLocked(intent)

	other := uuid.New()
	_, err := svc.Cancel(context.Background(), intent.ID, &other, "")
	assertAppError(t, err, "PAY_004")
}

func TestPaymentIntentService_ExpireDue(t *testing.T) {
	cfg := testIntentConfig()
	cfg.AwaitingGrace = 10 * time.Minute
	svc, d := setupIntentService(t, cfg)
	defer d.ctrl.Finish()

	now := d.clock.Now()
	a := d.openIntent("1")
	b := d.openIntent("2")
	b.Status = domain.IntentStatusAwaitingConfirmation

	d.transactor.EXPECT().Begin(gomock.Any()).Return(&mockTx{}, nil)
	// Expect: AWAITING intents only qualify once the grace period has passed
	d.intentRepo.EXPECT().ListExpirable(gomock.Any(), gomock.Any(), now, now.Add(-10*time.Minute), 50).
		Return([]domain.PaymentIntent{*a, *b}, nil)
	d.intentRepo.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any(), int64(1)).Return(nil).Times(2)
	var events []domain.EventType
	d.events.EXPECT().Enqueue(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ any, req ports.EnqueueRequest) error {
			events = append(events, req.EventType)
			return nil
		}).Times(2)

	n, err := svc.ExpireDue(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []domain.EventType{domain.EventPaymentExpired, domain.EventPaymentExpired}, events)
}

func TestPaymentIntentService_ExpireDue_ListError(t *testing.T) {
	svc, d := setupIntentService(t, testIntentConfig())
	defer d.ctrl.Finish()

	d.transactor.EXPECT().Begin(gomock.Any()).Return(&mockTx{}, nil)
	d.intentRepo.EXPECT().ListExpirable(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), 10).
		Return(nil, errors.New("timeout"))

	_, err := svc.ExpireDue(context.Background(), 10)
	assertAppError(t, err, "SYS_001")
}

func TestNormalizeTxHash(t *testing.T) {
	assert.Equal(t, "0xabc", NormalizeTxHash(" ABC "))
	assert.Equal(t, "0xabc", NormalizeTxHash("0xAbC"))
	assert.Equal(t, "", NormalizeTxHash("  "))
}

func ptrString(s string) *string { return &s }
