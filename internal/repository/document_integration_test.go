//go:build integration

package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/docintel/internal/domain"
	"github.com/cloo-solutions/docintel/internal/pagination"
	"github.com/cloo-solutions/docintel/internal/service"
	"github.com/cloo-solutions/docintel/internal/testutil"
	"github.com/cloo-solutions/docintel/internal/vectorstore"
)

var (
	sharedOnce sync.Once
	sharedPool *pgxpool.Pool
)

// setupDB returns a pool on a package-wide container, emptied for each test.
// The container is reaped by testcontainers when the test binary exits.
func setupDB(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	sharedOnce.Do(func() {
		pc := testutil.NewPostgresContainer(ctx, t)
		sharedPool = testutil.NewTestPool(ctx, t, pc, "../../migrations")
	})
	if sharedPool == nil {
		t.Fatal("postgres container failed to start in an earlier test")
	}
	require.NoError(t, testutil.TruncateAll(ctx, sharedPool))
	return sharedPool
}

func newDoc(owner string, uploadedAt time.Time) *domain.Document {
	return domain.NewDocument(uuid.NewString(), owner, "notes.txt", domain.FileTypeText,
		"Solar panels convert sunlight into electricity.", uploadedAt.UTC().Truncate(time.Microsecond))
}

func TestDocumentRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	pool := setupDB(ctx, t)
	repo := NewDocumentRepository(pool)

	doc := newDoc("owner-1", time.Now())
	doc.Title = "Solar"
	require.NoError(t, repo.Create(ctx, doc))

	got, err := repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusPending, got.Status)
	assert.Equal(t, "Solar", got.Title)
	assert.Empty(t, got.StorageKey)
	assert.Nil(t, got.ProcessedAt)

	require.NoError(t, repo.SetStorageKey(ctx, doc.ID, "documents/"+doc.ID+"/notes.txt"))
	require.NoError(t, repo.UpdateStatus(ctx, doc.ID, domain.DocumentStatusProcessing, ""))

	completed, err := repo.GetCompleted(ctx, []string{doc.ID})
	require.NoError(t, err)
	assert.Empty(t, completed)

	require.NoError(t, repo.SaveResult(ctx, &domain.ProcessingResult{
		DocumentID:  doc.ID,
		ContentHash: "abc",
		Summary:     "Panels make power.",
		WordCount:   6,
	}))

	got, err = repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusCompleted, got.Status)
	assert.Equal(t, "Panels make power.", got.Summary)
	assert.Equal(t, "documents/"+doc.ID+"/notes.txt", got.StorageKey)
	assert.NotNil(t, got.ProcessedAt)

	completed, err = repo.GetCompleted(ctx, []string{doc.ID, uuid.NewString()})
	require.NoError(t, err)
	assert.Len(t, completed, 1)
	assert.Contains(t, completed, doc.ID)

	require.NoError(t, repo.UpdateStatus(ctx, doc.ID, domain.DocumentStatusFailed, "model crashed"))
	got, err = repo.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "model crashed", got.Error)

	require.NoError(t, repo.Delete(ctx, doc.ID))
	_, err = repo.GetByID(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, doc.ID), domain.ErrDocumentNotFound)
}

func TestDocumentRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	pool := setupDB(ctx, t)
	repo := NewDocumentRepository(pool)

	_, err := repo.GetByID(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	err = repo.UpdateStatus(ctx, uuid.NewString(), domain.DocumentStatusProcessing, "")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentRepository_ListByOwnerPaginates(t *testing.T) {
	ctx := context.Background()
	pool := setupDB(ctx, t)
	repo := NewDocumentRepository(pool)

	base := time.Now().Add(-time.Hour)
	for i := range 5 {
		require.NoError(t, repo.Create(ctx, newDoc("owner-1", base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, repo.Create(ctx, newDoc("owner-2", base)))

	var seen []string
	var cursor *pagination.Cursor
	for {
		page, err := repo.ListByOwner(ctx, "owner-1", cursor, 2)
		require.NoError(t, err)
		for _, d := range page.Items {
			assert.Equal(t, "owner-1", d.OwnerID)
			seen = append(seen, d.ID)
		}
		if !page.HasMore {
			break
		}
		cursor, err = pagination.DecodeCursor(page.Cursor)
		require.NoError(t, err)
	}
	assert.Len(t, seen, 5)

	ids, err := repo.ListIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 6)
}

func TestChunkRepository_ReplaceChunks(t *testing.T) {
	ctx := context.Background()
	pool := setupDB(ctx, t)
	docs := NewDocumentRepository(pool)
	chunks := NewChunkRepository(pool)

	doc := newDoc("owner-1", time.Now())
	require.NoError(t, docs.Create(ctx, doc))

	require.NoError(t, chunks.ReplaceChunks(ctx, doc.ID, []domain.Chunk{
		{DocumentID: doc.ID, Index: 0, Content: "one two", WordCount: 2},
		{DocumentID: doc.ID, Index: 1, Content: "three", WordCount: 1},
	}))
	require.NoError(t, chunks.ReplaceChunks(ctx, doc.ID, []domain.Chunk{
		{DocumentID: doc.ID, Index: 0, Content: "replacement", WordCount: 1},
	}))

	got, err := chunks.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "replacement", got[0].Content)
}

func TestCorpusRepository_BumpIsMonotonic(t *testing.T) {
	ctx := context.Background()
	pool := setupDB(ctx, t)
	corpus := NewCorpusRepository(pool)

	start, err := corpus.Current(ctx)
	require.NoError(t, err)

	v1, err := corpus.Bump(ctx)
	require.NoError(t, err)
	v2, err := corpus.Bump(ctx)
	require.NoError(t, err)

	assert.Equal(t, start+1, v1)
	assert.Equal(t, start+2, v2)
}

func TestTxRunner_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	pool := setupDB(ctx, t)
	runner := NewTxRunner(pool)
	corpus := NewCorpusRepository(pool)

	before, err := corpus.Current(ctx)
	require.NoError(t, err)

	doc := newDoc("owner-1", time.Now())
	boom := errors.New("boom")
	err = runner.WithTx(ctx, func(repos service.TxRepositories) error {
		require.NoError(t, repos.Documents().Create(ctx, doc))
		_, err := repos.Corpus().Bump(ctx)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = NewDocumentRepository(pool).GetByID(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
	after, err := corpus.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.NoError(t, runner.WithTx(ctx, func(repos service.TxRepositories) error {
		if err := repos.Documents().Create(ctx, doc); err != nil {
			return err
		}
		_, err := repos.Corpus().Bump(ctx)
		return err
	}))
	after, err = corpus.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)
}

func TestProcessingJobRepository_ClaimAndRetry(t *testing.T) {
	ctx := context.Background()
	pool := setupDB(ctx, t)
	docs := NewDocumentRepository(pool)
	jobs := NewProcessingJobRepository(pool)

	doc := newDoc("owner-1", time.Now())
	require.NoError(t, docs.Create(ctx, doc))

	job := domain.NewPendingJob(uuid.NewString(), doc.ID, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, jobs.Create(ctx, job))

	active, err := jobs.HasActive(ctx, doc.ID)
	require.NoError(t, err)
	assert.True(t, active)

	claimed, err := jobs.ClaimPending(ctx, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, domain.JobStatusProcessing, claimed[0].Status)

	again, err := jobs.ClaimPending(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, jobs.IncrementRetries(ctx, job.ID))
	reset, err := jobs.ResetStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	require.NoError(t, jobs.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, "max retries exceeded"))
	got, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.Retries)
	assert.Equal(t, "max retries exceeded", got.Error)
	assert.NotNil(t, got.ProcessedAt)

	active, err = jobs.HasActive(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, active)

	assert.ErrorIs(t, jobs.UpdateStatus(ctx, uuid.NewString(), domain.JobStatusCompleted, ""), domain.ErrJobNotFound)
}

func TestEmbeddingStore_UpsertQueryDelete(t *testing.T) {
	ctx := context.Background()
	pool := setupDB(ctx, t)
	docs := NewDocumentRepository(pool)
	store := NewEmbeddingStore(pool, 384)

	a := newDoc("owner-1", time.Now())
	b := newDoc("owner-1", time.Now())
	require.NoError(t, docs.Create(ctx, a))
	require.NoError(t, docs.Create(ctx, b))

	unit := func(axis int) []float32 {
		v := make([]float32, 384)
		v[axis] = 1
		return v
	}
	const version = "hash-v1@384"

	require.NoError(t, store.Upsert(ctx, []vectorstore.Entry{
		{ID: domain.ChunkID(a.ID, 0), DocumentID: a.ID, ChunkIndex: 0, Content: "a0", Embedding: unit(0), ModelVersion: version},
		{ID: domain.ChunkID(b.ID, 0), DocumentID: b.ID, ChunkIndex: 0, Content: "b0", Embedding: unit(1), ModelVersion: version},
	}))
	// Upsert by the same ID replaces.
	require.NoError(t, store.Upsert(ctx, []vectorstore.Entry{
		{ID: domain.ChunkID(a.ID, 0), DocumentID: a.ID, ChunkIndex: 0, Content: "a0 v2", Embedding: unit(0), ModelVersion: version},
	}))

	hits, err := store.Query(ctx, unit(0), 5, version)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, a.ID, hits[0].DocumentID)
	assert.Equal(t, "a0 v2", hits[0].Content)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.InDelta(t, 0.0, hits[1].Score, 1e-6)

	_, err = store.Query(ctx, unit(0), 5, "other@384")
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	_, err = store.Query(ctx, []float32{1, 0}, 5, version)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	require.NoError(t, store.DeleteDocument(ctx, a.ID))
	hits, err = store.Query(ctx, unit(0), 5, version)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, b.ID, hits[0].DocumentID)
}
