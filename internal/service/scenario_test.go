package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"crypto-payment-gateway/internal/adapter/storage/memory"
	"crypto-payment-gateway/internal/clock"
	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/internal/core/ports"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioWallet = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

// scenarioChain is a single canonical fork that grows on demand.
type scenarioChain struct {
	mu        sync.Mutex
	head      uint64
	transfers []domain.Transfer
}

func (c *scenarioChain) LatestBlock(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *scenarioChain) HeaderByNumber(_ context.Context, n uint64) (*domain.BlockRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.head {
		return nil, nil
	}
	return header("aa", n), nil
}

func (c *scenarioChain) Transfers(_ context.Context, from, to uint64, recipients []string) ([]domain.Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Transfer
	for _, tr := range c.transfers {
		if tr.BlockNumber < from || tr.BlockNumber > to {
			continue
		}
		for _, r := range recipients {
			if strings.EqualFold(r, tr.To) {
				out = append(out, tr)
			}
		}
	}
	return out, nil
}

func (c *scenarioChain) mine(blocks uint64, transfers ...domain.Transfer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head += blocks
	c.transfers = append(c.transfers, transfers...)
}

type receivedWebhook struct {
	eventType string
	verified  bool
	envelope  domain.EventEnvelope
}

type scenario struct {
	clock      *clock.FakeClock
	chain      *scenarioChain
	auth       *AuthServiceImpl
	intents    *PaymentIntentServiceImpl
	watcher    *Watcher
	dispatcher *WebhookDispatcher
	sweeper    *Sweeper

	mu       sync.Mutex
	received []receivedWebhook
	secret   string
	status   int
}

func newScenario(t *testing.T) (*scenario, *httptest.Server) {
	t.Helper()

	sc := &scenario{
		clock:  clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		chain:  &scenarioChain{head: 100},
		status: http.StatusOK,
	}
	store := memory.New()
	log := newTestLogger()

	encSvc, err := NewAESEncryptionService(testAESKey)
	require.NoError(t, err)
	vault, err := NewCredentialVault(testPepper, nil, log)
	require.NoError(t, err)
	sigSvc := NewHMACSignatureService()
	hashSvc := NewArgon2HashServiceWithParams(Argon2Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 32, SaltLen: 16})
	tokenSvc := NewJWTTokenService("scenario-secret", time.Hour, "test", sc.clock)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts, _ := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)

		sc.mu.Lock()
		defer sc.mu.Unlock()
		var env domain.EventEnvelope
		_ = json.Unmarshal(body, &env)
		sc.received = append(sc.received, receivedWebhook{
			eventType: r.Header.Get(HeaderEventType),
			verified:  sigSvc.Verify(sc.secret, sigSvc.BuildSignedPayload(ts, body), r.Header.Get(HeaderSignature)),
			envelope:  env,
		})
		w.WriteHeader(sc.status)
	}))
	t.Cleanup(server.Close)

	sc.auth = NewAuthService(store.Merchants(), store.Secrets(), store, vault, hashSvc, encSvc, tokenSvc, true, sc.clock, log)
	sc.dispatcher = NewWebhookDispatcher(
		store.Deliveries(), store.Merchants(), store.Secrets(),
		encSvc, sigSvc, nil, server.Client(),
		DispatcherConfig{
			MaxAttempts:    3,
			BaseBackoff:    time.Second,
			MaxBackoff:     time.Minute,
			Timeout:        time.Second,
			BatchSize:      10,
			MaxConcurrent:  4,
			MaxPerMerchant: 2,
			ClaimLease:     time.Minute,
		},
		sc.clock, nil, log,
	)
	sc.intents = NewPaymentIntentService(
		store.Intents(), store.Merchants(), store.Idempotency(), nil,
		sc.dispatcher, store,
		IntentConfig{
			Chain:                 "ethereum",
			Currencies:            []string{"ETH"},
			RequiredConfirmations: 3,
			DefaultTTL:            30 * time.Minute,
			MaxTTL:                time.Hour,
			Tolerance:             decimal.Zero,
			ReorgPolicy:           "reopen",
		},
		sc.clock, nil, log,
	)
	sc.watcher = NewWatcher(
		sc.chain, store.Blocks(), store.Intents(), store.Merchants(), sc.intents,
		WatcherConfig{
			RequiredConfirmations: 3,
			StartBlock:            100,
			BatchSize:             10,
			ReorgDepth:            4,
			CallTimeout:           time.Second,
			MaxRetries:            1,
			RetryInterval:         time.Millisecond,
			Tolerance:             decimal.Zero,
		},
		sc.clock, nil, log,
	)
	sc.sweeper = NewSweeper(sc.intents, 50, log)
	return sc, server
}

func (sc *scenario) onboard(t *testing.T, webhookURL string) *ports.OnboardResponse {
	t.Helper()
	wallet := strings.ToLower(scenarioWallet)
	resp, err := sc.auth.Onboard(context.Background(), ports.OnboardRequest{
		Email:         "shop@example.com",
		Password:      "correct horse battery",
		BusinessName:  "Example Shop",
		WalletAddress: &wallet,
		WebhookURL:    &webhookURL,
	})
	require.NoError(t, err)
	sc.secret = resp.SigningSecret
	return resp
}

func (sc *scenario) webhooks() []receivedWebhook {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]receivedWebhook(nil), sc.received...)
}

func TestScenario_PaymentConfirmedAndDelivered(t *testing.T) {
	ctx := context.Background()
	sc, server := newScenario(t)
	merchant := sc.onboard(t, server.URL)
	assert.Equal(t, domain.MerchantStatusActive, merchant.Status)

	intent, err := sc.intents.CreateIntent(ctx, ports.CreateIntentRequest{
		MerchantID:     merchant.MerchantID,
		Amount:         decimal.RequireFromString("0.5"),
		Currency:       "eth",
		IdempotencyKey: "order-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusCreated, intent.Status)
	assert.Equal(t, scenarioWallet, intent.DestinationAddress)

	// The payment lands in block 101 and is seen with one confirmation.
	sc.chain.mine(1, domain.Transfer{
		TxHash:      "0x" + strings.Repeat("ab", 32),
		BlockNumber: 101,
		BlockHash:   blockHash("aa", 101),
		To:          scenarioWallet,
		Currency:    "ETH",
		Amount:      decimal.RequireFromString("0.5"),
	})
	require.NoError(t, sc.watcher.Poll(ctx))
	require.NoError(t, sc.watcher.Poll(ctx))

	got, err := sc.intents.GetIntent(ctx, merchant.MerchantID, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusAwaitingConfirmation, got.Status)
	assert.Equal(t, 1, got.Confirmations)

	// Two more blocks reach the required depth.
	sc.chain.mine(2)
	require.NoError(t, sc.watcher.Poll(ctx))

	got, err = sc.intents.GetIntent(ctx, merchant.MerchantID, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusConfirmed, got.Status)
	assert.Equal(t, 3, got.Confirmations)

	// Deliveries of one intent go out strictly in order.
	require.NoError(t, sc.dispatcher.DispatchDue(ctx))
	require.NoError(t, sc.dispatcher.DispatchDue(ctx))
	require.NoError(t, sc.dispatcher.DispatchDue(ctx))

	received := sc.webhooks()
	require.Len(t, received, 2)
	assert.Equal(t, string(domain.EventPaymentAwaitingConfirmation), received[0].eventType)
	assert.Equal(t, string(domain.EventPaymentConfirmed), received[1].eventType)
	for _, w := range received {
		assert.True(t, w.verified, "signature must verify with the onboarding secret")
		assert.Equal(t, intent.ID, w.envelope.PaymentIntentID)
	}
	assert.Equal(t, domain.IntentStatusConfirmed, received[1].envelope.Status)

	// Replaying the create returns the confirmed intent, not a new one.
	replayed, err := sc.intents.CreateIntent(ctx, ports.CreateIntentRequest{
		MerchantID:     merchant.MerchantID,
		Amount:         decimal.RequireFromString("0.5"),
		Currency:       "ETH",
		IdempotencyKey: "order-1",
	})
	require.NoError(t, err)
	assert.Equal(t, intent.ID, replayed.ID)
	assert.Equal(t, domain.IntentStatusConfirmed, replayed.Status)
}

func TestScenario_UnpaidIntentExpires(t *testing.T) {
	ctx := context.Background()
	sc, server := newScenario(t)
	merchant := sc.onboard(t, server.URL)

	ttl := 10 * time.Minute
	intent, err := sc.intents.CreateIntent(ctx, ports.CreateIntentRequest{
		MerchantID: merchant.MerchantID,
		Amount:     decimal.NewFromInt(1),
		Currency:   "ETH",
		TTL:        &ttl,
	})
	require.NoError(t, err)

	require.NoError(t, sc.sweeper.Sweep(ctx))
	got, err := sc.intents.GetIntent(ctx, merchant.MerchantID, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusCreated, got.Status)

	sc.clock.Advance(ttl + time.Second)
	require.NoError(t, sc.sweeper.Sweep(ctx))

	got, err = sc.intents.GetIntent(ctx, merchant.MerchantID, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusExpired, got.Status)

	// A late payment no longer matches the expired intent.
	sc.chain.mine(1, domain.Transfer{
		TxHash:      "0x" + strings.Repeat("cd", 32),
		BlockNumber: 101,
		BlockHash:   blockHash("aa", 101),
		To:          scenarioWallet,
		Currency:    "ETH",
		Amount:      decimal.NewFromInt(1),
	})
	require.NoError(t, sc.watcher.Poll(ctx))
	require.NoError(t, sc.watcher.Poll(ctx))

	got, err = sc.intents.GetIntent(ctx, merchant.MerchantID, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStatusExpired, got.Status)
	assert.Nil(t, got.MatchedTxHash)

	require.NoError(t, sc.dispatcher.DispatchDue(ctx))
	received := sc.webhooks()
	require.Len(t, received, 1)
	assert.Equal(t, string(domain.EventPaymentExpired), received[0].eventType)
}

func TestScenario_FailedDeliveryRetriesUntilAcknowledged(t *testing.T) {
	ctx := context.Background()
	sc, server := newScenario(t)
	merchant := sc.onboard(t, server.URL)
	sc.status = http.StatusServiceUnavailable

	intent, err := sc.intents.CreateIntent(ctx, ports.CreateIntentRequest{
		MerchantID: merchant.MerchantID,
		Amount:     decimal.NewFromInt(2),
		Currency:   "ETH",
	})
	require.NoError(t, err)
	_, err = sc.intents.Cancel(ctx, intent.ID, &merchant.MerchantID, "customer left")
	require.NoError(t, err)

	require.NoError(t, sc.dispatcher.DispatchDue(ctx))
	require.Len(t, sc.webhooks(), 1)

	// Not due yet: the retry waits out its backoff.
	require.NoError(t, sc.dispatcher.DispatchDue(ctx))
	require.Len(t, sc.webhooks(), 1)

	sc.mu.Lock()
	sc.status = http.StatusOK
	sc.mu.Unlock()
	sc.clock.Advance(time.Minute)
	require.NoError(t, sc.dispatcher.DispatchDue(ctx))

	received := sc.webhooks()
	require.Len(t, received, 2)
	for _, w := range received {
		assert.Equal(t, string(domain.EventPaymentFailed), w.eventType)
		assert.True(t, w.verified)
	}
}
