package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/docintel/internal/domain"
	"github.com/cloo-solutions/docintel/internal/vectorstore"
)

// EmbeddingStore is the pgvector-backed vectorstore.Store.
type EmbeddingStore struct {
	pool      *pgxpool.Pool
	dimension int
}

func NewEmbeddingStore(pool *pgxpool.Pool, dimension int) *EmbeddingStore {
	return &EmbeddingStore{pool: pool, dimension: dimension}
}

func (s *EmbeddingStore) Upsert(ctx context.Context, entries []vectorstore.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		if len(e.Embedding) != s.dimension {
			return domain.DimensionMismatch("entry %s has %d dimensions, store expects %d", e.ID, len(e.Embedding), s.dimension)
		}
		batch.Queue(
			`INSERT INTO chunk_embeddings (id, document_id, chunk_index, content, model_version, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO UPDATE
			 SET content = EXCLUDED.content,
			     model_version = EXCLUDED.model_version,
			     embedding = EXCLUDED.embedding,
			     created_at = NOW()`,
			e.ID, e.DocumentID, e.ChunkIndex, e.Content, e.ModelVersion, pgvector.NewVector(e.Embedding),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	for _, e := range entries {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to upsert embedding %s: %w", e.ID, err)
		}
	}
	return results.Close()
}

func (s *EmbeddingStore) Query(ctx context.Context, vector []float32, topK int, modelVersion string) ([]vectorstore.Hit, error) {
	if len(vector) != s.dimension {
		return nil, domain.DimensionMismatch("query has %d dimensions, store expects %d", len(vector), s.dimension)
	}
	if topK <= 0 {
		return nil, nil
	}

	var stale string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT model_version FROM chunk_embeddings WHERE model_version <> $1 LIMIT 1), '')`,
		modelVersion,
	).Scan(&stale)
	if err != nil {
		return nil, fmt.Errorf("failed to check model versions: %w", err)
	}
	if stale != "" {
		return nil, domain.DimensionMismatch("stored vectors from %s, query uses %s", stale, modelVersion)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, chunk_index, content, 1 - (embedding <=> $1) AS score
		 FROM chunk_embeddings
		 ORDER BY embedding <=> $1, id
		 LIMIT $2`,
		pgvector.NewVector(vector), topK,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	var hits []vectorstore.Hit
	for rows.Next() {
		var h vectorstore.Hit
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.ChunkIndex, &h.Content, &h.Score); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vectorstore.SortHits(hits)
	return hits, nil
}

func (s *EmbeddingStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunk_embeddings WHERE document_id = $1`, documentID)
	return err
}

func (s *EmbeddingStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op; the pool is owned by the caller.
func (s *EmbeddingStore) Close() error { return nil }
