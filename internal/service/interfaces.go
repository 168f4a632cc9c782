package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/docintel/internal/chunker"
	"github.com/cloo-solutions/docintel/internal/domain"
	"github.com/cloo-solutions/docintel/internal/extract"
	"github.com/cloo-solutions/docintel/internal/pagination"
	"github.com/cloo-solutions/docintel/internal/vectorstore"
)

// DocumentRepositoryInterface defines document persistence
type DocumentRepositoryInterface interface {
	Create(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetCompleted(ctx context.Context, ids []string) (map[string]*domain.Document, error)
	ListByOwner(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (pagination.Page[*domain.Document], error)
	ListIDs(ctx context.Context) ([]string, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) error
	SaveResult(ctx context.Context, res *domain.ProcessingResult) error
	SetStorageKey(ctx context.Context, id, key string) error
	Delete(ctx context.Context, id string) error
}

// ChunkRepositoryInterface defines chunk persistence
type ChunkRepositoryInterface interface {
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error
}

// CorpusRepositoryInterface reads and advances the corpus version token
type CorpusRepositoryInterface interface {
	Current(ctx context.Context) (int64, error)
	Bump(ctx context.Context) (int64, error)
}

// ProcessingJobRepositoryInterface defines processing job persistence
type ProcessingJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.ProcessingJob) error
	HasActive(ctx context.Context, documentID string) (bool, error)
}

// Chunker splits document text into bounded chunks.
type Chunker interface {
	Chunk(text string) (*chunker.Result, error)
}

// Embedder is the shared embedding model handle.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelVersion() string
}

// Summarizer is the shared summary model handle.
type Summarizer interface {
	Summarize(ctx context.Context, chunks []string) (string, error)
}

// VectorStore is the subset of vectorstore.Store the services call.
type VectorStore interface {
	Upsert(ctx context.Context, entries []vectorstore.Entry) error
	Query(ctx context.Context, vector []float32, topK int, modelVersion string) ([]vectorstore.Hit, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// Extractor turns upload bytes into plain text.
type Extractor interface {
	Extract(fileType domain.FileType, src []byte) (*extract.Result, error)
}

// StorageClient archives raw uploads.
type StorageClient interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	DeleteObject(ctx context.Context, key string) error
}

// JobNotifier wakes the background worker after a job is queued.
type JobNotifier interface {
	Wake()
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// CacheTTLs are the per-namespace entry lifetimes.
type CacheTTLs struct {
	Summary     time.Duration
	Search      time.Duration
	EmptySearch time.Duration
	Document    time.Duration
}
