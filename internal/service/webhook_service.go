package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"crypto-payment-gateway/internal/clock"
	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/internal/metrics"
	"crypto-payment-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// Outbound webhook headers.
const (
	HeaderSignature        = "X-Signature"
	HeaderTimestamp        = "X-Timestamp"
	HeaderEventType        = "X-Event-Type"
	HeaderDeliveryID       = "X-Delivery-ID"
	HeaderSignatureVersion = "X-Signature-Version"
)

const maxResponseDrain = 64 << 10

var errNoWebhookURL = errors.New("merchant has no webhook url")

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DispatcherConfig tunes delivery retries and concurrency.
type DispatcherConfig struct {
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
	BatchSize      int
	MaxConcurrent  int
	MaxPerMerchant int
	ClaimLease     time.Duration
}

// WebhookDispatcher owns the delivery outbox: it enqueues events inside the
// caller's transaction and later signs and POSTs them until acknowledged or exhausted.
type WebhookDispatcher struct {
	deliveryRepo ports.WebhookDeliveryRepository
	merchantRepo ports.MerchantRepository
	secretRepo   ports.SigningSecretRepository
	encSvc       ports.EncryptionService
	sigSvc       ports.SignatureService
	auditSvc     ports.AuditService
	httpClient   HTTPClient
	cfg          DispatcherConfig
	clock        clock.Clock
	metrics      *metrics.Registry
	log          zerolog.Logger

	sem      *semaphore.Weighted
	mu       sync.Mutex
	inflight map[uuid.UUID]int
	jitter   func() float64
}

// NewWebhookDispatcher creates a new WebhookDispatcher. auditSvc may be nil.
func NewWebhookDispatcher(
	deliveryRepo ports.WebhookDeliveryRepository,
	merchantRepo ports.MerchantRepository,
	secretRepo ports.SigningSecretRepository,
	encSvc ports.EncryptionService,
	sigSvc ports.SignatureService,
	auditSvc ports.AuditService,
	httpClient HTTPClient,
	cfg DispatcherConfig,
	clk clock.Clock,
	m *metrics.Registry,
	log zerolog.Logger,
) *WebhookDispatcher {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxPerMerchant < 1 {
		cfg.MaxPerMerchant = 1
	}
	return &WebhookDispatcher{
		deliveryRepo: deliveryRepo,
		merchantRepo: merchantRepo,
		secretRepo:   secretRepo,
		encSvc:       encSvc,
		sigSvc:       sigSvc,
		auditSvc:     auditSvc,
		httpClient:   httpClient,
		cfg:          cfg,
		clock:        clk,
		metrics:      m,
		log:          log,
		sem:          semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		inflight:     make(map[uuid.UUID]int),
		jitter:       defaultJitter,
	}
}

// Enqueue inserts a PENDING delivery due now, pinned to the merchant's
// current signing secret version.
func (s *WebhookDispatcher) Enqueue(ctx context.Context, tx pgx.Tx, req ports.EnqueueRequest) error {
	merchant, err := s.merchantRepo.GetByID(ctx, req.MerchantID)
	if err != nil {
		return fmt.Errorf("get merchant: %w", err)
	}
	if merchant == nil {
		return fmt.Errorf("merchant %s not found", req.MerchantID)
	}

	now := s.clock.Now()
	delivery := &domain.WebhookDelivery{
		ID:                   uuid.New(),
		PaymentIntentID:      req.IntentID,
		MerchantID:           req.MerchantID,
		EventType:            req.EventType,
		Payload:              req.Payload,
		PayloadHash:          domain.HashPayload(req.Payload),
		SigningSecretVersion: merchant.SigningSecretVersion,
		NextAttemptAt:        now,
		Status:               domain.DeliveryStatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.deliveryRepo.Create(ctx, tx, delivery); err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}

	s.log.Debug().
		Str("delivery_id", delivery.ID.String()).
		Str("intent_id", req.IntentID.String()).
		Str("event_type", string(req.EventType)).
		Msg("webhook enqueued")
	return nil
}

// DispatchDue claims due deliveries and attempts each once on the bounded pool.
// It returns once every started attempt has been recorded.
func (s *WebhookDispatcher) DispatchDue(ctx context.Context) error {
	claimed, err := s.deliveryRepo.ClaimDue(ctx, s.clock.Now(), s.cfg.BatchSize, s.cfg.ClaimLease)
	if err != nil {
		return fmt.Errorf("claim due deliveries: %w", err)
	}

	var wg sync.WaitGroup
	for i := range claimed {
		d := claimed[i]

		if !s.reserve(d.MerchantID) {
			s.release(ctx, d.ID)
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.unreserve(d.MerchantID)
			s.release(context.WithoutCancel(ctx), d.ID)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.sem.Release(1)
			defer s.unreserve(d.MerchantID)
			s.attempt(ctx, &d)
		}()
	}
	wg.Wait()
	return nil
}

func (s *WebhookDispatcher) reserve(merchantID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[merchantID] >= s.cfg.MaxPerMerchant {
		return false
	}
	s.inflight[merchantID]++
	return true
}

func (s *WebhookDispatcher) unreserve(merchantID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[merchantID]--; s.inflight[merchantID] <= 0 {
		delete(s.inflight, merchantID)
	}
}

func (s *WebhookDispatcher) release(ctx context.Context, id uuid.UUID) {
	if err := s.deliveryRepo.Release(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("delivery_id", id.String()).Msg("webhook: failed to release lease")
	}
}

// attempt makes one delivery attempt and records its outcome.
func (s *WebhookDispatcher) attempt(ctx context.Context, d *domain.WebhookDelivery) {
	code, sendErr := s.send(ctx, d)
	now := s.clock.Now()

	result := domain.AttemptResult{
		DeliveryID:   d.ID,
		AttemptCount: d.AttemptCount + 1,
	}
	if code != 0 {
		result.ResponseCode = &code
	}

	logger := s.log.With().
		Str("delivery_id", d.ID.String()).
		Str("intent_id", d.PaymentIntentID.String()).
		Str("event_type", string(d.EventType)).
		Int("attempt", result.AttemptCount).
		Logger()

	switch {
	case sendErr == nil:
		result.Status = domain.DeliveryStatusDelivered
		result.DeliveredAt = &now
		result.NextAttemptAt = d.NextAttemptAt
		s.metrics.IncWebhookAttempt("delivered")
		logger.Info().Int("status", code).Msg("webhook: delivered successfully")

	case result.AttemptCount >= s.cfg.MaxAttempts:
		msg := sendErr.Error()
		result.Status = domain.DeliveryStatusExhausted
		result.Error = &msg
		result.NextAttemptAt = d.NextAttemptAt
		s.metrics.IncWebhookAttempt("exhausted")
		s.metrics.IncDeliveryExhausted()
		logger.Error().Err(apperror.ErrDeliveryExhausted()).AnErr("cause", sendErr).Msg("webhook: all retry attempts exhausted")
		s.auditExhausted(ctx, d)

	default:
		msg := sendErr.Error()
		delay := retryDelay(result.AttemptCount, s.cfg.BaseBackoff, s.cfg.MaxBackoff, s.jitter)
		result.Status = domain.DeliveryStatusPending
		result.Error = &msg
		result.NextAttemptAt = nextAttemptAt(now, d.NextAttemptAt, delay)
		s.metrics.IncWebhookAttempt("retry")
		logger.Warn().Err(sendErr).Time("next_attempt_at", result.NextAttemptAt).Msg("webhook: delivery failed, retrying")
	}

	if err := s.deliveryRepo.RecordAttempt(context.WithoutCancel(ctx), result); err != nil {
		logger.Error().Err(err).Msg("webhook: failed to record attempt")
	}
}

// send POSTs the stored payload. It returns the HTTP status, or 0 when no
// response was received, and a non-nil error for anything other than 2xx.
func (s *WebhookDispatcher) send(ctx context.Context, d *domain.WebhookDelivery) (int, error) {
	merchant, err := s.merchantRepo.GetByID(ctx, d.MerchantID)
	if err != nil {
		return 0, fmt.Errorf("get merchant: %w", err)
	}
	if merchant == nil || merchant.WebhookURL == nil || *merchant.WebhookURL == "" {
		return 0, errNoWebhookURL
	}

	secret, err := s.signingSecret(ctx, d.MerchantID, d.SigningSecretVersion)
	if err != nil {
		return 0, err
	}

	ts := s.clock.Now().Unix()
	signature := s.sigSvc.Sign(secret, s.sigSvc.BuildSignedPayload(ts, d.Payload))

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, *merchant.WebhookURL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderEventType, string(d.EventType))
	req.Header.Set(HeaderDeliveryID, d.ID.String())
	req.Header.Set(HeaderSignatureVersion, strconv.Itoa(d.SigningSecretVersion))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("non-2xx response: %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (s *WebhookDispatcher) signingSecret(ctx context.Context, merchantID uuid.UUID, version int) (string, error) {
	stored, err := s.secretRepo.Get(ctx, merchantID, version)
	if err != nil {
		return "", fmt.Errorf("get signing secret v%d: %w", version, err)
	}
	if stored == nil {
		return "", fmt.Errorf("signing secret v%d not found", version)
	}
	secret, err := s.encSvc.Decrypt(stored.SecretEnc)
	if err != nil {
		return "", apperror.ErrEncryptionFailure(fmt.Errorf("decrypt signing secret: %w", err))
	}
	return secret, nil
}

func (s *WebhookDispatcher) auditExhausted(ctx context.Context, d *domain.WebhookDelivery) {
	if s.auditSvc == nil {
		return
	}
	merchantID := d.MerchantID
	s.auditSvc.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		MerchantID:   &merchantID,
		Action:       domain.AuditActionDeliveryExhausted,
		ResourceType: "webhook_delivery",
		ResourceID:   d.ID.String(),
		Details:      fmt.Sprintf(`{"payment_intent_id":%q,"event_type":%q}`, d.PaymentIntentID, d.EventType),
		CreatedAt:    s.clock.Now(),
	})
}
