package service

import (
	"cmp"
	"context"
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

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const awaitingScanLimit = 500

// WatcherConfig tunes chain polling.
type WatcherConfig struct {
	RequiredConfirmations int
	// StartBlock is where an empty block store begins; 0 means the current head.
	StartBlock    uint64
	BatchSize     uint64
	ReorgDepth    uint64
	CallTimeout   time.Duration
	MaxRetries    uint
	RetryInterval time.Duration
	Tolerance     decimal.Decimal
}

// Watcher reconciles payment intents against the chain. Each Poll advances
// the scanned range by at most one batch.
type Watcher struct {
	chain        ports.ChainClient
	blocks       ports.BlockRepository
	intentRepo   ports.PaymentIntentRepository
	merchantRepo ports.MerchantRepository
	intents      ports.PaymentIntentService
	cfg          WatcherConfig
	clock        clock.Clock
	metrics      *metrics.Registry
	log          zerolog.Logger
}

func NewWatcher(
	chain ports.ChainClient,
	blocks ports.BlockRepository,
	intentRepo ports.PaymentIntentRepository,
	merchantRepo ports.MerchantRepository,
	intents ports.PaymentIntentService,
	cfg WatcherConfig,
	clk clock.Clock,
	m *metrics.Registry,
	log zerolog.Logger,
) *Watcher {
	if clk == nil {
		clk = clock.Real{}
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	return &Watcher{
		chain:        chain,
		blocks:       blocks,
		intentRepo:   intentRepo,
		merchantRepo: merchantRepo,
		intents:      intents,
		cfg:          cfg,
		clock:        clk,
		metrics:      m,
		log:          log,
	}
}

// Poll runs one reconciliation cycle. An unreachable node is not an error:
// the cycle simply sees no new data.
func (w *Watcher) Poll(ctx context.Context) error {
	head, err := callChain(ctx, w, func(ctx context.Context) (uint64, error) {
		return w.chain.LatestBlock(ctx)
	})
	if err != nil {
		w.log.Warn().Err(apperror.ErrChainUnavailable(err)).Msg("watcher: head unavailable, skipping cycle")
		return nil
	}

	from, parent, err := w.resume(ctx, head)
	if err != nil {
		return err
	}

	if from <= head {
		to := min(head, from+w.cfg.BatchSize-1)
		if err := w.scan(ctx, from, to, head, parent); err != nil {
			return err
		}
	}

	w.updateConfirmations(ctx, head)
	return nil
}

// resume returns the next block to scan and the stored ref it must extend,
// unwinding orphaned blocks first when the stored tip left the canonical chain.
func (w *Watcher) resume(ctx context.Context, head uint64) (uint64, *domain.BlockRef, error) {
	last, err := w.blocks.Latest(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("latest block ref: %w", err)
	}
	if last == nil {
		start := w.cfg.StartBlock
		if start == 0 {
			start = head
		}
		return start, nil, nil
	}

	canonical, err := w.isCanonical(ctx, last)
	if err != nil {
		return 0, nil, err
	}
	if canonical {
		return last.Number + 1, last, nil
	}

	ancestor, err := w.findAncestor(ctx, last)
	if err != nil {
		return 0, nil, err
	}

	orphanedFrom := w.lowestReorgBlock(last.Number)
	if ancestor != nil {
		orphanedFrom = ancestor.Number + 1
	} else {
		w.log.Error().
			Uint64("tip", last.Number).
			Uint64("reorg_depth", w.cfg.ReorgDepth).
			Msg("watcher: no common ancestor within reorg depth")
	}

	w.metrics.IncReorg()
	w.log.Warn().
		Uint64("tip", last.Number).
		Uint64("orphaned_from", orphanedFrom).
		Msg("watcher: chain reorganization detected")

	if err := w.invalidateFrom(ctx, orphanedFrom); err != nil {
		return 0, nil, err
	}
	if err := w.blocks.DeleteFrom(ctx, orphanedFrom); err != nil {
		return 0, nil, fmt.Errorf("delete orphaned block refs: %w", err)
	}
	return orphanedFrom, ancestor, nil
}

func (w *Watcher) isCanonical(ctx context.Context, stored *domain.BlockRef) (bool, error) {
	header, err := callChain(ctx, w, func(ctx context.Context) (*domain.BlockRef, error) {
		return w.chain.HeaderByNumber(ctx, stored.Number)
	})
	if err != nil {
		return false, apperror.ErrChainUnavailable(fmt.Errorf("header %d: %w", stored.Number, err))
	}
	return header != nil && strings.EqualFold(header.Hash, stored.Hash), nil
}

// findAncestor walks back from tip to the newest stored block that is still canonical.
func (w *Watcher) findAncestor(ctx context.Context, tip *domain.BlockRef) (*domain.BlockRef, error) {
	lowest := w.lowestReorgBlock(tip.Number)
	for n := tip.Number; n > lowest; n-- {
		stored, err := w.blocks.GetByNumber(ctx, n-1)
		if err != nil {
			return nil, fmt.Errorf("block ref %d: %w", n-1, err)
		}
		if stored == nil {
			return nil, nil
		}
		canonical, err := w.isCanonical(ctx, stored)
		if err != nil {
			return nil, err
		}
		if canonical {
			return stored, nil
		}
	}
	return nil, nil
}

func (w *Watcher) lowestReorgBlock(tip uint64) uint64 {
	if tip < w.cfg.ReorgDepth {
		return 0
	}
	return tip - w.cfg.ReorgDepth
}

// invalidateFrom releases every match recorded in block n or later.
func (w *Watcher) invalidateFrom(ctx context.Context, n uint64) error {
	matched, err := w.intentRepo.ListMatchedFromBlock(ctx, n)
	if err != nil {
		return fmt.Errorf("list matched intents: %w", err)
	}

	for i := range matched {
		intent := &matched[i]
		if !intent.HasMatch() || intent.MatchedBlockNumber == nil {
			continue
		}
		cause := apperror.ErrChainReorgInvalidation(fmt.Errorf("block %d orphaned", *intent.MatchedBlockNumber))
		updated, err := w.intents.InvalidateMatch(ctx, intent.ID, *intent.MatchedTxHash, cause.Error())
		if err != nil {
			return fmt.Errorf("invalidate intent %s: %w", intent.ID, err)
		}
		w.log.Warn().
			Err(cause).
			Str("intent_id", intent.ID.String()).
			Str("tx_hash", *intent.MatchedTxHash).
			Str("status", string(updated.Status)).
			Msg("watcher: match invalidated by reorg")
	}
	return nil
}

// scan processes blocks [from, to] on top of parent.
func (w *Watcher) scan(ctx context.Context, from, to, head uint64, parent *domain.BlockRef) error {
	refs, err := w.headers(ctx, from, to, parent)
	if err != nil {
		return err
	}

	wallets, err := w.merchantRepo.ListActiveWallets(ctx)
	if err != nil {
		return fmt.Errorf("list active wallets: %w", err)
	}

	var transfers []domain.Transfer
	if len(wallets) > 0 {
		transfers, err = callChain(ctx, w, func(ctx context.Context) ([]domain.Transfer, error) {
			return w.chain.Transfers(ctx, from, to, wallets)
		})
		if err != nil {
			w.log.Warn().Err(apperror.ErrChainUnavailable(err)).Uint64("from", from).Uint64("to", to).
				Msg("watcher: transfers unavailable, skipping cycle")
			return nil
		}
	}

	if err := checkTransferBlocks(transfers, refs, from); err != nil {
		return err
	}
	slices.SortStableFunc(transfers, func(a, b domain.Transfer) int {
		if a.BlockNumber != b.BlockNumber {
			return cmp.Compare(a.BlockNumber, b.BlockNumber)
		}
		return cmp.Compare(a.LogIndex, b.LogIndex)
	})

	for _, tr := range transfers {
		if err := w.match(ctx, tr, head); err != nil {
			return err
		}
	}

	if err := w.blocks.Save(ctx, refs); err != nil {
		return fmt.Errorf("save block refs: %w", err)
	}
	if keep := w.cfg.ReorgDepth + uint64(w.cfg.RequiredConfirmations); to > keep {
		if err := w.blocks.PruneBelow(ctx, to-keep); err != nil {
			w.log.Warn().Err(err).Msg("watcher: failed to prune block refs")
		}
	}

	w.metrics.SetWatcherHeight(to)
	w.log.Debug().
		Uint64("from", from).
		Uint64("to", to).
		Uint64("head", head).
		Int("transfers", len(transfers)).
		Msg("watcher: range scanned")
	return nil
}

// headers fetches [from, to] and checks that each block extends the previous one.
func (w *Watcher) headers(ctx context.Context, from, to uint64, parent *domain.BlockRef) ([]domain.BlockRef, error) {
	refs := make([]domain.BlockRef, 0, to-from+1)
	prev := parent
	for n := from; n <= to; n++ {
		header, err := callChain(ctx, w, func(ctx context.Context) (*domain.BlockRef, error) {
			return w.chain.HeaderByNumber(ctx, n)
		})
		if err != nil {
			return nil, apperror.ErrChainUnavailable(fmt.Errorf("header %d: %w", n, err))
		}
		if header == nil {
			return nil, apperror.ErrChainUnavailable(fmt.Errorf("header %d not found", n))
		}
		if prev != nil && !strings.EqualFold(header.ParentHash, prev.Hash) {
			return nil, fmt.Errorf("block %d does not extend %d: chain moved during scan", n, prev.Number)
		}
		header.ObservedAt = w.clock.Now()
		refs = append(refs, *header)
		prev = &refs[len(refs)-1]
	}
	return refs, nil
}

func checkTransferBlocks(transfers []domain.Transfer, refs []domain.BlockRef, from uint64) error {
	for _, tr := range transfers {
		idx := tr.BlockNumber - from
		if tr.BlockNumber < from || idx >= uint64(len(refs)) {
			return fmt.Errorf("transfer %s outside scanned range", tr.TxHash)
		}
		if !strings.EqualFold(refs[idx].Hash, tr.BlockHash) {
			return fmt.Errorf("transfer %s block hash disagrees with header %d", tr.TxHash, tr.BlockNumber)
		}
	}
	return nil
}

// match attributes one transfer. A hash already held by an intent only
// refreshes its confirmations.
func (w *Watcher) match(ctx context.Context, tr domain.Transfer, head uint64) error {
	hash := NormalizeTxHash(tr.TxHash)
	req := ports.MatchRequest{
		TxHash:        hash,
		Amount:        tr.Amount,
		Confirmations: confirmationsAt(head, tr.BlockNumber),
		BlockNumber:   tr.BlockNumber,
	}

	existing, err := w.intentRepo.GetByTxHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("lookup tx hash: %w", err)
	}
	if existing != nil {
		req.IntentID = existing.ID
		return w.recordMatch(ctx, req)
	}

	candidates, err := w.intentRepo.ListOpenByDestination(ctx, tr.To, tr.Currency, w.clock.Now())
	if err != nil {
		return fmt.Errorf("list open intents: %w", err)
	}
	target := selectCandidate(candidates, tr.Amount, w.cfg.Tolerance)
	if target == nil {
		w.log.Debug().
			Str("tx_hash", hash).
			Str("to", tr.To).
			Str("currency", tr.Currency).
			Str("amount", tr.Amount.String()).
			Msg("watcher: transfer matches no open intent")
		return nil
	}

	req.IntentID = target.ID
	return w.recordMatch(ctx, req)
}

func (w *Watcher) recordMatch(ctx context.Context, req ports.MatchRequest) error {
	intent, err := w.intents.RecordMatch(ctx, req)
	switch {
	case err == nil:
		w.log.Info().
			Str("intent_id", intent.ID.String()).
			Str("tx_hash", req.TxHash).
			Int("confirmations", intent.Confirmations).
			Str("status", string(intent.Status)).
			Msg("watcher: transfer matched")
		return nil
	case apperror.HasCode(err, apperror.ErrDuplicateTransactionMatch().Code),
		apperror.HasCode(err, apperror.ErrIntentNotOpen().Code),
		apperror.HasCode(err, apperror.ErrIntentAlreadyMatched().Code):
		w.log.Warn().Err(err).Str("intent_id", req.IntentID.String()).Str("tx_hash", req.TxHash).Msg("watcher: match skipped")
		return nil
	default:
		return fmt.Errorf("record match %s: %w", req.TxHash, err)
	}
}

// selectCandidate picks from open intents, oldest first: the earliest paid
// within tolerance, else the earliest overpaid, else the earliest underpaid.
func selectCandidate(candidates []domain.PaymentIntent, amount, tolerance decimal.Decimal) *domain.PaymentIntent {
	ordered := slices.Clone(candidates)
	slices.SortStableFunc(ordered, func(a, b domain.PaymentIntent) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	var overpaid, underpaid *domain.PaymentIntent
	for i := range ordered {
		c := &ordered[i]
		diff := amount.Sub(c.ExpectedAmount)
		switch {
		case diff.Abs().LessThanOrEqual(tolerance):
			return c
		case diff.IsPositive():
			if overpaid == nil {
				overpaid = c
			}
		default:
			if underpaid == nil {
				underpaid = c
			}
		}
	}
	if overpaid != nil {
		return overpaid
	}
	return underpaid
}

// updateConfirmations raises confirmation counts of AWAITING_CONFIRMATION intents.
func (w *Watcher) updateConfirmations(ctx context.Context, head uint64) {
	awaiting, err := w.intentRepo.ListAwaiting(ctx, awaitingScanLimit)
	if err != nil {
		w.log.Warn().Err(err).Msg("watcher: failed to list awaiting intents")
		return
	}

	for i := range awaiting {
		intent := &awaiting[i]
		if !intent.HasMatch() || intent.MatchedBlockNumber == nil || intent.ReceivedAmount == nil {
			continue
		}
		confirmations := confirmationsAt(head, *intent.MatchedBlockNumber)
		if confirmations <= intent.Confirmations {
			continue
		}
		err := w.recordMatch(ctx, ports.MatchRequest{
			IntentID:      intent.ID,
			TxHash:        *intent.MatchedTxHash,
			Amount:        *intent.ReceivedAmount,
			Confirmations: confirmations,
			BlockNumber:   *intent.MatchedBlockNumber,
		})
		if err != nil {
			w.log.Warn().Err(err).Str("intent_id", intent.ID.String()).Msg("watcher: failed to update confirmations")
		}
	}
}

func confirmationsAt(head, block uint64) int {
	if block > head {
		return 0
	}
	return int(head - block + 1)
}

// callChain runs fn under the per-call timeout, retrying with exponential backoff.
func callChain[T any](ctx context.Context, w *Watcher, fn func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.RetryInterval

	return backoff.Retry(ctx, func() (T, error) {
		callCtx := ctx
		if w.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, w.cfg.CallTimeout)
			defer cancel()
		}
		v, err := fn(callCtx)
		if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(w.cfg.MaxRetries))
}
