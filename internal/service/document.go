package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/cloo-solutions/docintel/internal/cache"
	"github.com/cloo-solutions/docintel/internal/domain"
	"github.com/cloo-solutions/docintel/internal/pagination"
	"github.com/cloo-solutions/docintel/internal/telemetry"
)

// DocumentService owns the document lifecycle outside the processing path:
// upload, retrieval, listing, deletion and requeueing.
type DocumentService struct {
	docRepo   DocumentRepositoryInterface
	jobRepo   ProcessingJobRepositoryInterface
	txRunner  TxRunner
	corpus    CorpusRepositoryInterface
	vectors   VectorStore
	extractor Extractor
	storage   StorageClient
	notifier  JobNotifier
	cache     *cache.Cache
	ttls      CacheTTLs
	uuidGen   UUIDGenerator
}

func NewDocumentService(
	docRepo DocumentRepositoryInterface,
	jobRepo ProcessingJobRepositoryInterface,
	txRunner TxRunner,
	corpus CorpusRepositoryInterface,
	vectors VectorStore,
	extractor Extractor,
	c *cache.Cache,
	ttls CacheTTLs,
) *DocumentService {
	if c == nil {
		c = cache.New(nil, 0)
	}
	return &DocumentService{
		docRepo:   docRepo,
		jobRepo:   jobRepo,
		txRunner:  txRunner,
		corpus:    corpus,
		vectors:   vectors,
		extractor: extractor,
		cache:     c,
		ttls:      ttls,
		uuidGen:   &DefaultUUIDGenerator{},
	}
}

// WithStorage archives raw uploads in object storage.
func (s *DocumentService) WithStorage(storage StorageClient) *DocumentService {
	s.storage = storage
	return s
}

// WithNotifier wakes the worker whenever a job is queued.
func (s *DocumentService) WithNotifier(n JobNotifier) *DocumentService {
	s.notifier = n
	return s
}

// WithUUIDGen replaces the id generator (for testing).
func (s *DocumentService) WithUUIDGen(gen UUIDGenerator) *DocumentService {
	s.uuidGen = gen
	return s
}

type UploadInput struct {
	OwnerID     string
	Filename    string
	ContentType string
	Body        []byte
}

// Upload stores the extracted text as a pending document and queues it for
// processing. It returns before any inference runs.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "DocumentService.Upload", telemetry.SpanAttributes{
		OwnerID:   input.OwnerID,
		Operation: "upload",
	})
	defer span.End()

	filename := path.Base(strings.ReplaceAll(strings.TrimSpace(input.Filename), `\`, "/"))
	if filename == "" || filename == "." || filename == "/" {
		return nil, domain.ErrMissingRequiredField
	}
	fileType, err := domain.FileTypeFromName(filename)
	if err != nil {
		return nil, err
	}

	extracted, err := s.extractor.Extract(fileType, input.Body)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	doc := domain.NewDocument(s.uuidGen.NewString(), input.OwnerID, filename, fileType, extracted.Text, now)
	doc.Title = extracted.Title
	if err := domain.ValidateDocument(doc); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid document", err)
	}

	job := domain.NewPendingJob(s.uuidGen.NewString(), doc.ID, now)

	if err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Documents().Create(ctx, doc); err != nil {
			return fmt.Errorf("failed to create document: %w", err)
		}
		if err := repos.Jobs().Create(ctx, job); err != nil {
			return fmt.Errorf("failed to create processing job: %w", err)
		}
		return nil
	}); err != nil {
		span.SetError(err)
		return nil, err
	}

	s.archive(ctx, doc, input)
	s.wake()

	return doc, nil
}

// archive keeps the original bytes next to the extracted text. Failure only
// loses the archive copy.
func (s *DocumentService) archive(ctx context.Context, doc *domain.Document, input UploadInput) {
	if s.storage == nil {
		return
	}

	key := buildStorageKey(doc.ID, doc.Filename)
	contentType := input.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	if err := s.storage.PutObject(ctx, key, input.Body, contentType); err != nil {
		log.Printf("documents: failed to archive %s: %v", doc.ID, err)
		telemetry.CaptureError(ctx, err)
		return
	}
	if err := s.docRepo.SetStorageKey(ctx, doc.ID, key); err != nil {
		log.Printf("documents: failed to record archive key for %s: %v", doc.ID, err)
		return
	}
	doc.StorageKey = key
}

func buildStorageKey(documentID, filename string) string {
	return fmt.Sprintf("documents/%s/%s", documentID, filename)
}

// GetDocument reads through the document cache. Only documents in a terminal
// state are cached, so a pending document is never served stale.
//
// An entry written while a mutation committed is dropped again: mutations
// bump the corpus version before they invalidate.
func (s *DocumentService) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	key := cache.DocumentKey(id)

	var cached domain.Document
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	before, versionErr := s.corpus.Current(ctx)

	doc, err := s.docRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if versionErr != nil {
		log.Printf("documents: corpus version unavailable, not caching %s: %v", id, versionErr)
		return doc, nil
	}
	if doc.Status != domain.DocumentStatusCompleted && doc.Status != domain.DocumentStatusFailed {
		return doc, nil
	}

	s.cache.Set(ctx, key, doc, s.ttls.Document)
	if after, err := s.corpus.Current(ctx); err != nil || after != before {
		s.cache.Invalidate(context.WithoutCancel(ctx), key)
	}
	return doc, nil
}

type ListDocumentsInput struct {
	OwnerID string
	Cursor  string
	Limit   int
}

func (s *DocumentService) ListDocuments(ctx context.Context, input ListDocumentsInput) (pagination.Page[*domain.Document], error) {
	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return pagination.Page[*domain.Document]{}, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	return s.docRepo.ListByOwner(ctx, input.OwnerID, cursor, pagination.ClampLimit(input.Limit))
}

// Delete removes the document with its chunks and vectors and bumps the
// corpus version.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "DocumentService.Delete", telemetry.SpanAttributes{
		DocumentID: id,
		Operation:  "delete",
	})
	defer span.End()

	doc, err := s.docRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Documents().Delete(ctx, id); err != nil {
			return err
		}
		_, err := repos.Corpus().Bump(ctx)
		return err
	}); err != nil {
		span.SetError(err)
		return err
	}

	if err := s.vectors.DeleteDocument(ctx, id); err != nil {
		// Orphaned vectors never surface: search joins hits against stored documents.
		log.Printf("documents: failed to delete vectors of %s: %v", id, err)
		telemetry.CaptureError(ctx, err)
	}

	if s.storage != nil && doc.StorageKey != "" {
		if err := s.storage.DeleteObject(ctx, doc.StorageKey); err != nil {
			log.Printf("documents: failed to delete archive %s: %v", doc.StorageKey, err)
		}
	}

	s.invalidate(ctx, id)
	return nil
}

// Reprocess queues the upload path again for a stored document. The document
// leaves the searchable set until processing completes.
func (s *DocumentService) Reprocess(ctx context.Context, id string) (*domain.ProcessingJob, error) {
	if _, err := s.docRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}

	active, err := s.jobRepo.HasActive(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to check processing jobs: %w", err)
	}
	if active {
		return nil, domain.ErrDocumentBusy
	}

	job, err := s.requeue(ctx, id)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, id)
	s.wake()
	return job, nil
}

// ReindexAll queues every idle document, e.g. after the embedding model
// changed. It returns the number of jobs created.
func (s *DocumentService) ReindexAll(ctx context.Context) (int, error) {
	ids, err := s.docRepo.ListIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list documents: %w", err)
	}

	queued := 0
	for _, id := range ids {
		active, err := s.jobRepo.HasActive(ctx, id)
		if err != nil {
			return queued, fmt.Errorf("failed to check processing jobs: %w", err)
		}
		if active {
			continue
		}
		if _, err := s.requeue(ctx, id); err != nil {
			if errors.Is(err, domain.ErrDocumentNotFound) {
				continue
			}
			return queued, err
		}
		queued++
	}

	if queued > 0 {
		ctx := context.WithoutCancel(ctx)
		s.cache.InvalidatePrefix(ctx, cache.DocumentPrefix)
		s.cache.InvalidatePrefix(ctx, cache.SearchPrefix)
		s.wake()
	}
	return queued, nil
}

func (s *DocumentService) requeue(ctx context.Context, id string) (*domain.ProcessingJob, error) {
	job := domain.NewPendingJob(s.uuidGen.NewString(), id, time.Now().UTC())

	err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Documents().UpdateStatus(ctx, id, domain.DocumentStatusPending, ""); err != nil {
			return err
		}
		if err := repos.Jobs().Create(ctx, job); err != nil {
			return fmt.Errorf("failed to create processing job: %w", err)
		}
		_, err := repos.Corpus().Bump(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// invalidate runs after a commit, so it outlives a cancelled request.
func (s *DocumentService) invalidate(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	s.cache.Invalidate(ctx, cache.DocumentKey(id))
	s.cache.InvalidatePrefix(ctx, cache.SearchPrefix)
}

func (s *DocumentService) wake() {
	if s.notifier != nil {
		s.notifier.Wake()
	}
}
