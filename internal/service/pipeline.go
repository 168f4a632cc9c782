package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloo-solutions/docintel/internal/cache"
	"github.com/cloo-solutions/docintel/internal/domain"
	"github.com/cloo-solutions/docintel/internal/telemetry"
	"github.com/cloo-solutions/docintel/internal/vectorstore"
)

// Stage is a step of the upload path.
type Stage string

const (
	StageReceived         Stage = "received"
	StageChunked          Stage = "chunked"
	StageEmbedded         Stage = "embedded"
	StageSummarized       Stage = "summarized"
	StagePersisted        Stage = "persisted"
	StageCacheInvalidated Stage = "cache_invalidated"
	StageDone             Stage = "done"
)

// Pipeline runs the upload path for one document: chunk, embed, summarize,
// persist, invalidate. Nothing is persisted unless every stage succeeds.
type Pipeline struct {
	docRepo    DocumentRepositoryInterface
	txRunner   TxRunner
	vectors    VectorStore
	chunker    Chunker
	embedder   Embedder
	summarizer Summarizer
	cache      *cache.Cache
	ttls       CacheTTLs
}

func NewPipeline(
	docRepo DocumentRepositoryInterface,
	txRunner TxRunner,
	vectors VectorStore,
	chunker Chunker,
	embedder Embedder,
	summarizer Summarizer,
	c *cache.Cache,
	ttls CacheTTLs,
) *Pipeline {
	if c == nil {
		c = cache.New(nil, 0)
	}
	return &Pipeline{
		docRepo:    docRepo,
		txRunner:   txRunner,
		vectors:    vectors,
		chunker:    chunker,
		embedder:   embedder,
		summarizer: summarizer,
		cache:      c,
		ttls:       ttls,
	}
}

// ProcessDocument derives chunks, embeddings and a summary from rawText and
// stores them for documentID. Any failing stage aborts the rest and its
// error is returned as-is.
func (p *Pipeline) ProcessDocument(ctx context.Context, documentID, rawText string) (*domain.ProcessingResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "Pipeline.ProcessDocument", telemetry.SpanAttributes{
		DocumentID: documentID,
		Operation:  "process",
	})
	defer span.End()

	result, err := p.run(ctx, documentID, rawText)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, documentID, rawText string) (*domain.ProcessingResult, error) {
	p.stage(ctx, documentID, StageReceived)
	if strings.TrimSpace(rawText) == "" {
		return nil, domain.ErrEmptyInput
	}

	chunked, err := p.chunker.Chunk(rawText)
	if err != nil {
		return nil, err
	}
	texts := chunked.Texts()
	p.stage(ctx, documentID, StageChunked)

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("failed to embed chunks: got %d vectors for %d chunks", len(vectors), len(texts))
	}
	p.stage(ctx, documentID, StageEmbedded)

	summary, _, err := cachedSummary(ctx, p.cache, p.ttls.Summary, p.summarizer, texts)
	if err != nil {
		return nil, err
	}
	p.stage(ctx, documentID, StageSummarized)

	modelVersion := p.embedder.ModelVersion()
	chunks := make([]domain.Chunk, len(chunked.Chunks))
	entries := make([]vectorstore.Entry, len(chunked.Chunks))
	for i, ch := range chunked.Chunks {
		ch.DocumentID = documentID
		ch.Embedding = vectors[i]
		chunks[i] = ch
		entries[i] = vectorstore.Entry{
			ID:           ch.ID(),
			DocumentID:   documentID,
			ChunkIndex:   ch.Index,
			Content:      ch.Content,
			Embedding:    ch.Embedding,
			ModelVersion: modelVersion,
		}
	}

	result := &domain.ProcessingResult{
		DocumentID:   documentID,
		ContentHash:  cache.ContentHash(rawText),
		Summary:      summary,
		Chunks:       chunks,
		Truncated:    chunked.Truncated,
		WordCount:    chunked.TotalWords,
		ModelVersion: modelVersion,
	}

	if err := p.persist(ctx, result, entries); err != nil {
		return nil, err
	}
	p.stage(ctx, documentID, StagePersisted)

	p.invalidate(ctx, documentID)
	p.stage(ctx, documentID, StageCacheInvalidated)

	p.stage(ctx, documentID, StageDone)
	return result, nil
}

// persist replaces the document's vectors, then commits the relational rows
// and the corpus version bump in one transaction. A failed commit removes
// the vectors again so no partial artifacts remain.
func (p *Pipeline) persist(ctx context.Context, result *domain.ProcessingResult, entries []vectorstore.Entry) error {
	if err := p.vectors.DeleteDocument(ctx, result.DocumentID); err != nil {
		return fmt.Errorf("failed to clear vectors: %w", err)
	}
	if err := p.vectors.Upsert(ctx, entries); err != nil {
		p.dropVectors(ctx, result.DocumentID)
		return fmt.Errorf("failed to store vectors: %w", err)
	}

	err := p.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Documents().SaveResult(ctx, result); err != nil {
			return err
		}
		if err := repos.Chunks().ReplaceChunks(ctx, result.DocumentID, result.Chunks); err != nil {
			return err
		}
		_, err := repos.Corpus().Bump(ctx)
		return err
	})
	if err != nil {
		p.dropVectors(ctx, result.DocumentID)
		return fmt.Errorf("failed to persist document: %w", err)
	}
	return nil
}

func (p *Pipeline) dropVectors(ctx context.Context, documentID string) {
	if err := p.vectors.DeleteDocument(context.WithoutCancel(ctx), documentID); err != nil {
		log.Printf("pipeline: failed to remove vectors of %s after error: %v", documentID, err)
		telemetry.CaptureError(ctx, err)
	}
}

// invalidate drops the document entry and every search entry. The corpus
// version bump already hides stale search entries; the prefix sweep frees them.
func (p *Pipeline) invalidate(ctx context.Context, documentID string) {
	ctx = context.WithoutCancel(ctx)
	p.cache.Invalidate(ctx, cache.DocumentKey(documentID))
	p.cache.InvalidatePrefix(ctx, cache.SearchPrefix)
}

func (p *Pipeline) stage(ctx context.Context, documentID string, s Stage) {
	log.Printf("pipeline: document %s %s", documentID, s)
	telemetry.AddBreadcrumb(ctx, "pipeline", string(s))
}

// ProcessStored runs the upload path over a stored document's content,
// moving it to processing first.
func (p *Pipeline) ProcessStored(ctx context.Context, documentID string) (*domain.ProcessingResult, error) {
	doc, err := p.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := p.docRepo.UpdateStatus(ctx, documentID, domain.DocumentStatusProcessing, ""); err != nil {
		return nil, fmt.Errorf("failed to mark document processing: %w", err)
	}
	return p.ProcessDocument(ctx, documentID, doc.Content)
}

// MarkFailed records a permanent processing failure on the document.
func (p *Pipeline) MarkFailed(ctx context.Context, documentID string, cause error) error {
	if err := p.docRepo.UpdateStatus(ctx, documentID, domain.DocumentStatusFailed, domain.FailureMessage(cause)); err != nil {
		return err
	}
	p.cache.Invalidate(ctx, cache.DocumentKey(documentID))
	return nil
}

// MarkPending returns the document to the retryable state.
func (p *Pipeline) MarkPending(ctx context.Context, documentID string) error {
	return p.docRepo.UpdateStatus(ctx, documentID, domain.DocumentStatusPending, "")
}
