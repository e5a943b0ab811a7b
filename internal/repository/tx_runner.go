package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRepositories bundles the repositories participating in one transaction.
type TxRepositories struct {
	Documents *DocumentRepository
	Chunks    *ChunkRepository
}

// TxRunner provides transactional repositories using a pgx pool.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

func (r *TxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}

	repos := TxRepositories{
		Documents: NewDocumentRepositoryWithTx(tx),
		Chunks:    NewChunkRepositoryWithTx(tx),
	}
	if err := fn(repos); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}
