package service

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/cloo-solutions/docintel/internal/domain"
	"github.com/cloo-solutions/docintel/internal/pagination"
)

// memRepo is an in-memory stand-in for every relational repository.
type memRepo struct {
	mu      sync.Mutex
	docs    map[string]*domain.Document
	chunks  map[string][]domain.Chunk
	jobs    map[string]*domain.ProcessingJob
	version int64

	saveErr    error
	versionErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		docs:   make(map[string]*domain.Document),
		chunks: make(map[string][]domain.Chunk),
		jobs:   make(map[string]*domain.ProcessingJob),
	}
}

func (r *memRepo) snapshot() *memRepo {
	r.mu.Lock()
	defer r.mu.Unlock()
	docs := make(map[string]*domain.Document, len(r.docs))
	for id, d := range r.docs {
		cp := *d
		docs[id] = &cp
	}
	jobs := make(map[string]*domain.ProcessingJob, len(r.jobs))
	for id, j := range r.jobs {
		cp := *j
		jobs[id] = &cp
	}
	return &memRepo{docs: docs, chunks: maps.Clone(r.chunks), jobs: jobs, version: r.version}
}

func (r *memRepo) restore(s *memRepo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs, r.chunks, r.jobs, r.version = s.docs, s.chunks, s.jobs, s.version
}

func (r *memRepo) Create(ctx context.Context, d *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.docs[d.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) GetCompleted(ctx context.Context, ids []string) (map[string]*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*domain.Document)
	for _, id := range ids {
		if d, ok := r.docs[id]; ok && d.Status == domain.DocumentStatusCompleted {
			cp := *d
			out[id] = &cp
		}
	}
	return out, nil
}

func (r *memRepo) ListByOwner(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (pagination.Page[*domain.Document], error) {
	r.mu.Lock()
	var items []*domain.Document
	for _, d := range r.docs {
		if d.OwnerID == ownerID {
			cp := *d
			items = append(items, &cp)
		}
	}
	r.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].UploadedAt.Equal(items[j].UploadedAt) {
			return items[i].UploadedAt.After(items[j].UploadedAt)
		}
		return items[i].ID > items[j].ID
	})
	if cursor != nil {
		for i, d := range items {
			if d.ID == cursor.LastID {
				items = items[i+1:]
				break
			}
		}
	}
	if len(items) > limit+1 {
		items = items[:limit+1]
	}
	return pagination.NewPage(items, limit, func(d *domain.Document) (string, time.Time) {
		return d.ID, d.UploadedAt
	}), nil
}

func (r *memRepo) ListIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	d.Status = status
	d.Error = errMsg
	return nil
}

func (r *memRepo) SaveResult(ctx context.Context, res *domain.ProcessingResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	d, ok := r.docs[res.DocumentID]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	now := time.Now().UTC()
	d.ContentHash = res.ContentHash
	d.Summary = res.Summary
	d.Truncated = res.Truncated
	d.WordCount = res.WordCount
	d.Status = domain.DocumentStatusCompleted
	d.Error = ""
	d.ProcessedAt = &now
	return nil
}

func (r *memRepo) SetStorageKey(ctx context.Context, id, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.docs[id]; ok {
		d.StorageKey = key
	}
	return nil
}

func (r *memRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return domain.ErrDocumentNotFound
	}
	delete(r.docs, id)
	delete(r.chunks, id)
	for jid, j := range r.jobs {
		if j.DocumentID == id {
			delete(r.jobs, jid)
		}
	}
	return nil
}

func (r *memRepo) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks[documentID] = append([]domain.Chunk(nil), chunks...)
	return nil
}

func (r *memRepo) Current(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.versionErr != nil {
		return 0, r.versionErr
	}
	return r.version, nil
}

func (r *memRepo) Bump(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version++
	return r.version, nil
}

// memJobs exposes the job side of memRepo, whose method names overlap with documents.
type memJobs struct{ r *memRepo }

func (j memJobs) Create(ctx context.Context, job *domain.ProcessingJob) error {
	j.r.mu.Lock()
	defer j.r.mu.Unlock()
	cp := *job
	j.r.jobs[job.ID] = &cp
	return nil
}

func (j memJobs) HasActive(ctx context.Context, documentID string) (bool, error) {
	j.r.mu.Lock()
	defer j.r.mu.Unlock()
	for _, job := range j.r.jobs {
		if job.DocumentID == documentID && (job.Status == domain.JobStatusPending || job.Status == domain.JobStatusProcessing) {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) jobCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

type testTxRepos struct {
	repo *memRepo
}

func (t *testTxRepos) Documents() DocumentRepositoryInterface { return t.repo }
func (t *testTxRepos) Chunks() ChunkRepositoryInterface { return t.repo }
func (t *testTxRepos) Jobs() ProcessingJobRepositoryInterface { return memJobs{t.repo} }
func (t *testTxRepos) Corpus() CorpusRepositoryInterface { return t.repo }

// testTxRunner restores the repository snapshot when fn fails.
type testTxRunner struct {
	repo   *memRepo
	called int
}

func (t *testTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	t.called++
	snap := t.repo.snapshot()
	if err := fn(&testTxRepos{repo: t.repo}); err != nil {
		t.repo.restore(snap)
		return err
	}
	return nil
}
