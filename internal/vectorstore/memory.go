package vectorstore

import (
	"context"
	"sync"

	"github.com/cloo-solutions/docintel/internal/domain"
)

// MemoryStore ranks by brute force. It is used in tests and single-process setups.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]Entry
}

func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		dimension: dimension,
		entries:   make(map[string]Entry),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if len(e.Embedding) != s.dimension {
			return domain.DimensionMismatch("entry %s has %d dimensions, store expects %d", e.ID, len(e.Embedding), s.dimension)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		e.Embedding = append([]float32(nil), e.Embedding...)
		s.entries[e.ID] = e
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, vector []float32, topK int, modelVersion string) ([]Hit, error) {
	if len(vector) != s.dimension {
		return nil, domain.DimensionMismatch("query has %d dimensions, store expects %d", len(vector), s.dimension)
	}
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]Hit, 0, len(s.entries))
	for _, e := range s.entries {
		if e.ModelVersion != modelVersion {
			return nil, domain.DimensionMismatch("stored vector %s is from %s, query uses %s", e.ID, e.ModelVersion, modelVersion)
		}
		hits = append(hits, Hit{
			ID:         e.ID,
			DocumentID: e.DocumentID,
			ChunkIndex: e.ChunkIndex,
			Content:    e.Content,
			Score:      Cosine(vector, e.Embedding),
		})
	}

	SortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.DocumentID == documentID {
			delete(s.entries, id)
		}
	}
	return nil
}

// Len returns the number of stored vectors.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
