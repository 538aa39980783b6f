package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// intentTxOptions is used for every gateway transaction. Intent and
// merchant rows are locked with SELECT ... FOR UPDATE, so READ COMMITTED
// is enough to serialize transitions on the same row.
var intentTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}

// Transactor implements ports.DBTransactor.
type Transactor struct {
	pool Pool
	opts pgx.TxOptions
}

func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool, opts: intentTxOptions}
}

// Begin opens a read-write transaction.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := t.pool.BeginTx(ctx, t.opts)
	if err != nil {
		return nil, fmt.Errorf("begin %s tx: %w", t.opts.IsoLevel, err)
	}
	return tx, nil
}
