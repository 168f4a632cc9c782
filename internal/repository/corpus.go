package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CorpusRepository holds the corpus version token. It only moves forward,
// and every document mutation bumps it in the same transaction.
type CorpusRepository struct {
	db dbtx
}

func NewCorpusRepository(pool *pgxpool.Pool) *CorpusRepository {
	return &CorpusRepository{db: pool}
}

func NewCorpusRepositoryWithTx(tx pgx.Tx) *CorpusRepository {
	return &CorpusRepository{db: tx}
}

func (r *CorpusRepository) Current(ctx context.Context) (int64, error) {
	var version int64
	err := r.db.QueryRow(ctx, `SELECT version FROM corpus_version WHERE id = 1`).Scan(&version)
	return version, err
}

func (r *CorpusRepository) Bump(ctx context.Context) (int64, error) {
	var version int64
	err := r.db.QueryRow(ctx,
		`UPDATE corpus_version SET version = version + 1 WHERE id = 1 RETURNING version`,
	).Scan(&version)
	return version, err
}
