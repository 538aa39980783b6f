package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"crypto-payment-gateway/internal/clock"
	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/internal/metrics"
	"crypto-payment-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const idempotencyTTL = 24 * time.Hour

// Reorg policies for matches invalidated by a chain reorganization.
const (
	ReorgPolicyReopen = "reopen"
	ReorgPolicyFail   = "fail"
)

// IntentConfig carries the engine's tunables.
type IntentConfig struct {
	Chain                 string
	Currencies            []string
	RequiredConfirmations int
	DefaultTTL            time.Duration
	MaxTTL                time.Duration
	Tolerance             decimal.Decimal
	ReorgPolicy           string
	// AwaitingGrace extends expiry for intents that already have a match.
	AwaitingGrace time.Duration
}

// PaymentIntentServiceImpl implements ports.PaymentIntentService.
// Every mutation runs in one DB transaction: the intent row is locked, the
// write is version-checked and the resulting webhook deliveries are enqueued
// before commit.
type PaymentIntentServiceImpl struct {
	intentRepo   ports.PaymentIntentRepository
	merchantRepo ports.MerchantRepository
	idempRepo    ports.IdempotencyRepository
	idempCache   ports.IdempotencyCache // nil when Redis is disabled
	events       ports.EventEnqueuer
	transactor   ports.DBTransactor
	cfg          IntentConfig
	clock        clock.Clock
	metrics      *metrics.Registry
	log          zerolog.Logger
}

// NewPaymentIntentService creates a new PaymentIntentServiceImpl.
func NewPaymentIntentService(
	intentRepo ports.PaymentIntentRepository,
	merchantRepo ports.MerchantRepository,
	idempRepo ports.IdempotencyRepository,
	idempCache ports.IdempotencyCache,
	events ports.EventEnqueuer,
	transactor ports.DBTransactor,
	cfg IntentConfig,
	clk clock.Clock,
	m *metrics.Registry,
	log zerolog.Logger,
) *PaymentIntentServiceImpl {
	if clk == nil {
		clk = clock.Real{}
	}
	return &PaymentIntentServiceImpl{
		intentRepo:   intentRepo,
		merchantRepo: merchantRepo,
		idempRepo:    idempRepo,
		idempCache:   idempCache,
		events:       events,
		transactor:   transactor,
		cfg:          cfg,
		clock:        clk,
		metrics:      m,
		log:          log,
	}
}

// CreateIntent persists a CREATED intent addressed to the merchant's wallet.
func (s *PaymentIntentServiceImpl) CreateIntent(ctx context.Context, req ports.CreateIntentRequest) (*domain.PaymentIntent, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if !slices.Contains(s.cfg.Currencies, currency) {
		return nil, apperror.Validation(fmt.Sprintf("unsupported currency %q", req.Currency))
	}
	ttl := s.cfg.DefaultTTL
	if req.TTL != nil {
		ttl = *req.TTL
	}
	if ttl <= 0 || ttl > s.cfg.MaxTTL {
		return nil, apperror.Validation(fmt.Sprintf("ttl must be between 1s and %s", s.cfg.MaxTTL))
	}

	var idempKey string
	if req.IdempotencyKey != "" {
		idempKey = domain.BuildIntentIdempotencyKey(req.MerchantID, req.IdempotencyKey)
		if replay, err := s.lookupIdempotent(ctx, idempKey); err != nil || replay != nil {
			return replay, err
		}
	}

	merchant, err := s.merchantRepo.GetByID(ctx, req.MerchantID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get merchant: %w", err))
	}
	if merchant == nil || !merchant.CanReceivePayments() {
		return nil, apperror.ErrMerchantNotActive()
	}

	now := s.clock.Now()
	intent := &domain.PaymentIntent{
		ID:                    uuid.New(),
		MerchantID:            merchant.ID,
		ExpectedAmount:        req.Amount,
		Currency:              currency,
		Chain:                 s.cfg.Chain,
		DestinationAddress:    *merchant.WalletAddress,
		Status:                domain.IntentStatusCreated,
		RequiredConfirmations: s.cfg.RequiredConfirmations,
		Version:               1,
		CreatedAt:             now,
		UpdatedAt:             now,
		ExpiresAt:             now.Add(ttl),
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.intentRepo.Create(ctx, dbTx, intent); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create intent: %w", err))
	}

	var respJSON []byte
	if idempKey != "" {
		if respJSON, err = json.Marshal(intent); err != nil {
			return nil, apperror.InternalError(fmt.Errorf("marshal intent: %w", err))
		}
		err = s.idempRepo.Create(ctx, dbTx, &domain.IdempotencyLog{
			Key:          idempKey,
			IntentID:     intent.ID,
			ResponseJSON: respJSON,
			CreatedAt:    now,
		})
		if errors.Is(err, domain.ErrIdempotencyKey) {
			// A concurrent request with the same key won; return its intent.
			_ = dbTx.Rollback(ctx)
			return s.lookupIdempotent(ctx, idempKey)
		}
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("save idempotency log: %w", err))
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	if idempKey != "" && s.idempCache != nil {
		if err := s.idempCache.Set(ctx, idempKey, respJSON, idempotencyTTL); err != nil {
			s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
		}
	}

	s.metrics.IncIntentCreated(currency)
	s.log.Info().
		Str("intent_id", intent.ID.String()).
		Str("merchant_id", merchant.ID.String()).
		Str("amount", intent.ExpectedAmount.String()).
		Str("currency", currency).
		Time("expires_at", intent.ExpiresAt).
		Msg("payment intent created")

	return intent, nil
}

// lookupIdempotent checks Redis, then the DB log. It returns (nil, nil) on a miss.
func (s *PaymentIntentServiceImpl) lookupIdempotent(ctx context.Context, key string) (*domain.PaymentIntent, error) {
	if s.idempCache != nil {
		cached, err := s.idempCache.Get(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
		}
		if cached != nil {
			return s.replay(ctx, cached)
		}
	}

	entry, err := s.idempRepo.Get(ctx, key)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("db idempotency check: %w", err))
	}
	if entry == nil {
		return nil, nil
	}
	return s.replay(ctx, entry.ResponseJSON)
}

// replay returns the current state of a previously created intent, falling
// back to the stored snapshot.
func (s *PaymentIntentServiceImpl) replay(ctx context.Context, snapshot []byte) (*domain.PaymentIntent, error) {
	var stored domain.PaymentIntent
	if err := json.Unmarshal(snapshot, &stored); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("unmarshal idempotent intent: %w", err))
	}
	current, err := s.intentRepo.GetByID(ctx, stored.ID)
	if err != nil || current == nil {
		return &stored, nil
	}
	return current, nil
}

// GetIntent returns the intent if it belongs to merchantID.
func (s *PaymentIntentServiceImpl) GetIntent(ctx context.Context, merchantID, intentID uuid.UUID) (*domain.PaymentIntent, error) {
	intent, err := s.intentRepo.GetByID(ctx, intentID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get intent: %w", err))
	}
	if intent == nil || intent.MerchantID != merchantID {
		return nil, apperror.ErrNotFound("Payment intent")
	}
	return intent, nil
}

func (s *PaymentIntentServiceImpl) ListIntents(ctx context.Context, params domain.IntentListParams) ([]domain.PaymentIntent, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}
	if params.Status != nil && !params.Status.Valid() {
		return nil, 0, apperror.Validation("invalid status filter")
	}

	intents, total, err := s.intentRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(fmt.Errorf("list intents: %w", err))
	}
	return intents, total, nil
}

// RecordMatch attributes an on-chain transfer to an intent. Repeating it with
// the same hash only raises the confirmation count.
func (s *PaymentIntentServiceImpl) RecordMatch(ctx context.Context, req ports.MatchRequest) (*domain.PaymentIntent, error) {
	hash := NormalizeTxHash(req.TxHash)
	if hash == "" {
		return nil, apperror.Validation("transaction hash is required")
	}

	return s.transition(ctx, req.IntentID, func(intent *domain.PaymentIntent, t *transitions) (bool, error) {
		if intent.HasMatch() {
			if *intent.MatchedTxHash != hash {
				return false, apperror.ErrIntentAlreadyMatched()
			}
			return s.raiseConfirmations(intent, req.Confirmations, t)
		}

		if !intent.IsOpen(t.at) {
			return false, apperror.ErrIntentNotOpen()
		}
		if !req.Amount.IsPositive() {
			return false, apperror.ErrInvalidAmount()
		}

		block := req.BlockNumber
		amount := req.Amount
		intent.MatchedTxHash = &hash
		intent.MatchedBlockNumber = &block
		intent.ReceivedAmount = &amount
		intent.Confirmations = max(req.Confirmations, 0)

		if err := t.move(intent, domain.IntentStatusAwaitingConfirmation); err != nil {
			return false, err
		}
		if amount.LessThan(intent.ExpectedAmount.Sub(s.cfg.Tolerance)) {
			return true, t.move(intent, domain.IntentStatusUnderpaid)
		}
		if intent.Confirmations >= intent.RequiredConfirmations {
			return true, t.move(intent, domain.IntentStatusConfirmed)
		}
		return true, nil
	})
}

func (s *PaymentIntentServiceImpl) raiseConfirmations(intent *domain.PaymentIntent, confirmations int, t *transitions) (bool, error) {
	if intent.Status != domain.IntentStatusAwaitingConfirmation || confirmations <= intent.Confirmations {
		return false, nil
	}
	intent.Confirmations = confirmations
	if intent.Confirmations >= intent.RequiredConfirmations {
		return true, t.move(intent, domain.IntentStatusConfirmed)
	}
	return true, nil
}

// InvalidateMatch applies the reorg policy to an intent whose matched
// transaction left the canonical chain. A different hash is a no-op.
func (s *PaymentIntentServiceImpl) InvalidateMatch(ctx context.Context, intentID uuid.UUID, txHash string, reason string) (*domain.PaymentIntent, error) {
	hash := NormalizeTxHash(txHash)

	return s.transition(ctx, intentID, func(intent *domain.PaymentIntent, t *transitions) (bool, error) {
		if !intent.HasMatch() || *intent.MatchedTxHash != hash {
			return false, nil
		}

		if intent.Status.IsTerminal() {
			// Nothing left to reopen; release the hash only.
			intent.ClearMatch()
			return true, nil
		}

		if s.cfg.ReorgPolicy == ReorgPolicyFail {
			// The hash stays attached so a re-included transfer cannot claim another intent.
			intent.FailureReason = &reason
			return true, t.move(intent, domain.IntentStatusFailed)
		}

		intent.ClearMatch()
		intent.FailureReason = nil
		return true, t.move(intent, domain.IntentStatusCreated)
	})
}

// Cancel moves a CREATED, AWAITING_CONFIRMATION or UNDERPAID intent to FAILED.
func (s *PaymentIntentServiceImpl) Cancel(ctx context.Context, intentID uuid.UUID, merchantID *uuid.UUID, reason string) (*domain.PaymentIntent, error) {
	if reason == "" {
		reason = "cancelled"
	}

	return s.transition(ctx, intentID, func(intent *domain.PaymentIntent, t *transitions) (bool, error) {
		if merchantID != nil && intent.MerchantID != *merchantID {
			return false, apperror.ErrNotFound("Payment intent")
		}
		if !intent.Status.IsCancellable() {
			return false, apperror.ErrInvalidTransition(string(intent.Status), string(domain.IntentStatusFailed))
		}
		intent.FailureReason = &reason
		return true, t.move(intent, domain.IntentStatusFailed)
	})
}

// ExpireDue expires up to limit overdue intents and returns how many it moved.
func (s *PaymentIntentServiceImpl) ExpireDue(ctx context.Context, limit int) (int, error) {
	now := s.clock.Now()

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	due, err := s.intentRepo.ListExpirable(ctx, dbTx, now, now.Add(-s.cfg.AwaitingGrace), limit)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("list expirable: %w", err))
	}

	var all []statusMove
	for i := range due {
		intent := &due[i]
		t := &transitions{at: now}
		expected := intent.Version
		if err := t.move(intent, domain.IntentStatusExpired); err != nil {
			s.log.Warn().Err(err).Str("intent_id", intent.ID.String()).Msg("skipping unexpirable intent")
			continue
		}
		if err := s.persist(ctx, dbTx, intent, expected, t); err != nil {
			return 0, err
		}
		all = append(all, t.moves...)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}
	s.recordMoves(all)

	if len(all) > 0 {
		s.log.Info().Int("count", len(all)).Msg("payment intents expired")
	}
	return len(all), nil
}

type statusMove struct {
	intentID uuid.UUID
	from, to domain.IntentStatus
}

// transitions collects the status moves made while an intent is locked and
// the event envelope emitted by each.
type transitions struct {
	at     time.Time
	moves  []statusMove
	events []domain.EventEnvelope
}

func (t *transitions) move(intent *domain.PaymentIntent, to domain.IntentStatus) error {
	from := intent.Status
	if !from.CanTransitionTo(to) {
		return apperror.ErrInvalidTransition(string(from), string(to))
	}
	eventType, ok := domain.EventForStatus(to)
	if !ok {
		return apperror.InternalError(fmt.Errorf("no event for status %s", to))
	}

	intent.Status = to
	t.moves = append(t.moves, statusMove{intentID: intent.ID, from: from, to: to})
	t.events = append(t.events, domain.NewEventEnvelope(eventType, intent, t.at))
	return nil
}

type mutation func(intent *domain.PaymentIntent, t *transitions) (changed bool, err error)

// transition locks the intent, applies fn and persists the result with its events.
func (s *PaymentIntentServiceImpl) transition(ctx context.Context, intentID uuid.UUID, fn mutation) (*domain.PaymentIntent, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	intent, err := s.intentRepo.GetByIDForUpdate(ctx, dbTx, intentID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock intent: %w", err))
	}
	if intent == nil {
		return nil, apperror.ErrNotFound("Payment intent")
	}

	t := &transitions{at: s.clock.Now()}
	expected := intent.Version
	changed, err := fn(intent, t)
	if err != nil {
		return nil, err
	}
	if !changed {
		return intent, nil
	}

	if err := s.persist(ctx, dbTx, intent, expected, t); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.recordMoves(t.moves)
	return intent, nil
}

// persist writes the version-checked intent and enqueues one delivery per event.
func (s *PaymentIntentServiceImpl) persist(ctx context.Context, dbTx pgx.Tx, intent *domain.PaymentIntent, expected int64, t *transitions) error {
	intent.UpdatedAt = t.at

	err := s.intentRepo.Update(ctx, dbTx, intent, expected)
	switch {
	case errors.Is(err, domain.ErrVersionConflict):
		return apperror.ErrConcurrentUpdate(err)
	case errors.Is(err, domain.ErrTxHashClaimed):
		s.metrics.IncDuplicateMatch()
		return apperror.ErrDuplicateTransactionMatch()
	case err != nil:
		return apperror.ErrDatabaseError(fmt.Errorf("update intent: %w", err))
	}

	for _, ev := range t.events {
		payload, err := ev.Marshal()
		if err != nil {
			return apperror.InternalError(fmt.Errorf("marshal event: %w", err))
		}
		err = s.events.Enqueue(ctx, dbTx, ports.EnqueueRequest{
			MerchantID: intent.MerchantID,
			IntentID:   intent.ID,
			EventType:  ev.EventType,
			Payload:    payload,
		})
		if err != nil {
			return apperror.ErrDatabaseError(fmt.Errorf("enqueue %s: %w", ev.EventType, err))
		}
	}
	return nil
}

func (s *PaymentIntentServiceImpl) recordMoves(moves []statusMove) {
	for _, m := range moves {
		s.metrics.IncTransition(string(m.from), string(m.to))
		s.log.Info().
			Str("intent_id", m.intentID.String()).
			Str("from", string(m.from)).
			Str("to", string(m.to)).
			Msg("payment intent transitioned")
	}
}

// NormalizeTxHash lowercases a transaction hash and ensures the 0x prefix.
func NormalizeTxHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if h == "" {
		return ""
	}
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	return h
}
