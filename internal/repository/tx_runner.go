package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/docintel/internal/service"
)

// TxRunner runs service callbacks inside one Postgres transaction. The
// callback's error rolls everything back; nil commits.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

func (r *TxRunner) WithTx(ctx context.Context, fn func(repos service.TxRepositories) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(txRepos{tx: tx})
	})
}

// txRepos hands out repositories bound to the open transaction.
type txRepos struct {
	tx pgx.Tx
}

func (r txRepos) Documents() service.DocumentRepositoryInterface {
	return NewDocumentRepositoryWithTx(r.tx)
}

func (r txRepos) Chunks() service.ChunkRepositoryInterface {
	return NewChunkRepositoryWithTx(r.tx)
}

func (r txRepos) Jobs() service.ProcessingJobRepositoryInterface {
	return NewProcessingJobRepositoryWithTx(r.tx)
}

func (r txRepos) Corpus() service.CorpusRepositoryInterface {
	return NewCorpusRepositoryWithTx(r.tx)
}
