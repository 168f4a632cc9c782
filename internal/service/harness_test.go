package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/docintel/internal/cache"
	"github.com/cloo-solutions/docintel/internal/chunker"
	"github.com/cloo-solutions/docintel/internal/domain"
	"github.com/cloo-solutions/docintel/internal/embedding"
	"github.com/cloo-solutions/docintel/internal/extract"
	"github.com/cloo-solutions/docintel/internal/summarizer"
	"github.com/cloo-solutions/docintel/internal/vectorstore"
)

var testTTLs = CacheTTLs{
	Summary:     24 * time.Hour,
	Search:      time.Hour,
	EmptySearch: 5 * time.Minute,
	Document:    time.Hour,
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// unreachableBackend fails every call the way a down Redis does.
type unreachableBackend struct{}

var errConnRefused = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

func (unreachableBackend) Get(context.Context, string) ([]byte, error) { return nil, errConnRefused }
func (unreachableBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errConnRefused
}
func (unreachableBackend) Delete(context.Context, ...string) error { return errConnRefused }
func (unreachableBackend) DeletePrefix(context.Context, string) (int, error) {
	return 0, errConnRefused
}
func (unreachableBackend) Ping(context.Context) error { return errConnRefused }
func (unreachableBackend) Close() error               { return nil }

// countingEmbedModel wraps the hash model and counts inference calls.
type countingEmbedModel struct {
	*embedding.HashModel
	calls atomic.Int32
	err   error
}

func (m *countingEmbedModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.HashModel.EmbedBatch(ctx, texts)
}

// countingSummaryModel wraps the extractive model and counts inference calls.
type countingSummaryModel struct {
	*summarizer.Extractive
	calls atomic.Int32
	err   error
}

func (m *countingSummaryModel) Summarize(ctx context.Context, text string, opts summarizer.DecodeOptions) (string, error) {
	m.calls.Add(1)
	if m.err != nil {
		return "", m.err
	}
	return m.Extractive.Summarize(ctx, text, opts)
}

type MockStorageClient struct {
	mock.Mock
}

func (m *MockStorageClient) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	args := m.Called(ctx, key, body, contentType)
	return args.Error(0)
}

func (m *MockStorageClient) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Wake() {
	m.Called()
}

type harness struct {
	repo     *memRepo
	tx       *testTxRunner
	vectors  *vectorstore.MemoryStore
	clock    *fakeClock
	embed    *countingEmbedModel
	sum      *countingSummaryModel
	embedder *embedding.Generator
	cache    *cache.Cache

	pipeline *Pipeline
	search   *SearchService
	summary  *SummaryService
	docs     *DocumentService
}

// newHarness wires every service over in-memory stores and offline models.
// A nil backend selects a memory cache driven by the harness clock.
func newHarness(t *testing.T, backend cache.Backend) *harness {
	t.Helper()

	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	if backend == nil {
		backend = cache.NewMemoryBackend(cache.WithClock(clock.Now))
	}

	ch, err := chunker.New(chunker.DefaultConfig())
	require.NoError(t, err)
	extractive, err := summarizer.NewExtractive()
	require.NoError(t, err)

	h := &harness{
		repo:    newMemRepo(),
		vectors: vectorstore.NewMemoryStore(embedding.DefaultDimension),
		clock:   clock,
		embed:   &countingEmbedModel{HashModel: embedding.NewHashModel(embedding.DefaultDimension)},
		sum:     &countingSummaryModel{Extractive: extractive},
		cache:   cache.New(backend, time.Second),
	}
	h.tx = &testTxRunner{repo: h.repo}
	h.embedder = embedding.NewGenerator(h.embed, embedding.Config{Dimension: embedding.DefaultDimension})
	summ := summarizer.New(h.sum, summarizer.DefaultConfig())

	h.pipeline = NewPipeline(h.repo, h.tx, h.vectors, ch, h.embedder, summ, h.cache, testTTLs)
	h.search = NewSearchService(h.repo, h.repo, h.vectors, h.embedder, h.cache, testTTLs)
	h.summary = NewSummaryService(ch, summ, h.cache, testTTLs.Summary)
	h.docs = NewDocumentService(h.repo, memJobs{h.repo}, h.tx, h.repo, h.vectors, extract.New(), h.cache, testTTLs)
	return h
}

// addDocument stores a pending document with text as its content.
func (h *harness) addDocument(t *testing.T, filename, text string) *domain.Document {
	t.Helper()
	doc := domain.NewDocument(uuid.NewString(), "owner-1", filename, domain.FileTypeText, text, h.clock.Now())
	require.NoError(t, h.repo.Create(context.Background(), doc))
	return doc
}

// ingest stores and fully processes a document.
func (h *harness) ingest(t *testing.T, filename, text string) *domain.Document {
	t.Helper()
	doc := h.addDocument(t, filename, text)
	_, err := h.pipeline.ProcessDocument(context.Background(), doc.ID, text)
	require.NoError(t, err)
	return doc
}
