// Package vectorstore persists chunk embeddings and ranks them by cosine
// similarity.
package vectorstore

import (
	"context"
	"math"
	"sort"
)

// Entry is one chunk vector. ID is domain.ChunkID(DocumentID, ChunkIndex).
type Entry struct {
	ID           string
	DocumentID   string
	ChunkIndex   int
	Content      string
	Embedding    []float32
	ModelVersion string
}

// Hit is a ranked query result. Score is cosine similarity in [-1, 1].
type Hit struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Content    string
	Score      float64
}

// Store is implemented by every vector backend. Upsert is idempotent by ID.
// Query returns at most topK hits ordered by score descending, ties broken by
// lowest ID, and fails with domain.ErrDimensionMismatch when the store holds
// vectors from a model version other than modelVersion.
type Store interface {
	Upsert(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, vector []float32, topK int, modelVersion string) ([]Hit, error)
	DeleteDocument(ctx context.Context, documentID string) error
	Ping(ctx context.Context) error
	Close() error
}

// SortHits orders hits by score descending, then ID ascending.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

// Cosine returns the cosine similarity of a and b, or 0 if either is a zero vector.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
