package postgres

import (
	"context"
	"errors"
	"fmt"

	"crypto-payment-gateway/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// BlockRepo implements ports.BlockRepository on chain_blocks.
type BlockRepo struct {
	pool Pool
}

func NewBlockRepo(pool Pool) *BlockRepo {
	return &BlockRepo{pool: pool}
}

func (r *BlockRepo) Latest(ctx context.Context) (*domain.BlockRef, error) {
	query := `SELECT number, hash, parent_hash, observed_at FROM chain_blocks ORDER BY number DESC LIMIT 1`
	return scanBlock(r.pool.QueryRow(ctx, query), "latest block")
}

func (r *BlockRepo) GetByNumber(ctx context.Context, number uint64) (*domain.BlockRef, error) {
	query := `SELECT number, hash, parent_hash, observed_at FROM chain_blocks WHERE number = $1`
	return scanBlock(r.pool.QueryRow(ctx, query, number), "get block")
}

// Save upserts refs in one transaction; a re-scanned height takes the new hash.
func (r *BlockRepo) Save(ctx context.Context, refs []domain.BlockRef) error {
	if len(refs) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save blocks: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `INSERT INTO chain_blocks (number, hash, parent_hash, observed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (number) DO UPDATE SET hash = EXCLUDED.hash, parent_hash = EXCLUDED.parent_hash,
			observed_at = EXCLUDED.observed_at`
	for _, ref := range refs {
		if _, err := tx.Exec(ctx, query, ref.Number, ref.Hash, ref.ParentHash, ref.ObservedAt); err != nil {
			return fmt.Errorf("save block %d: %w", ref.Number, err)
		}
	}
	return tx.Commit(ctx)
}

func (r *BlockRepo) DeleteFrom(ctx context.Context, number uint64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM chain_blocks WHERE number >= $1`, number); err != nil {
		return fmt.Errorf("delete blocks: %w", err)
	}
	return nil
}

func (r *BlockRepo) PruneBelow(ctx context.Context, number uint64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM chain_blocks WHERE number < $1`, number); err != nil {
		return fmt.Errorf("prune blocks: %w", err)
	}
	return nil
}

func scanBlock(row pgx.Row, op string) (*domain.BlockRef, error) {
	ref := &domain.BlockRef{}
	if err := row.Scan(&ref.Number, &ref.Hash, &ref.ParentHash, &ref.ObservedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ref, nil
}
