package memory

import (
	"context"

	"crypto-payment-gateway/internal/core/domain"
)

// BlockRepo implements ports.BlockRepository.
type BlockRepo struct {
	s *Store
}

func (r *BlockRepo) Latest(_ context.Context) (*domain.BlockRef, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var latest *domain.BlockRef
	for _, ref := range r.s.blocks {
		if latest == nil || ref.Number > latest.Number {
			latest = &ref
		}
	}
	return latest, nil
}

func (r *BlockRepo) GetByNumber(_ context.Context, number uint64) (*domain.BlockRef, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if ref, ok := r.s.blocks[number]; ok {
		return &ref, nil
	}
	return nil, nil
}

func (r *BlockRepo) Save(_ context.Context, refs []domain.BlockRef) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, ref := range refs {
		r.s.blocks[ref.Number] = ref
	}
	return nil
}

func (r *BlockRepo) DeleteFrom(_ context.Context, number uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for n := range r.s.blocks {
		if n >= number {
			delete(r.s.blocks, n)
		}
	}
	return nil
}

func (r *BlockRepo) PruneBelow(_ context.Context, number uint64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for n := range r.s.blocks {
		if n < number {
			delete(r.s.blocks, n)
		}
	}
	return nil
}
