package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/docintel/internal/domain"
)

// MockJobProcessor is a mock implementation of JobProcessor
type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockProcessingJobRepository is a mock implementation of ProcessingJobRepository
type MockProcessingJobRepository struct {
	mock.Mock
}

func (m *MockProcessingJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.ProcessingJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ProcessingJob), args.Error(1)
}

func (m *MockProcessingJobRepository) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) error {
	args := m.Called(ctx, jobID, status, errMsg)
	return args.Error(0)
}

func (m *MockProcessingJobRepository) IncrementRetries(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

// MockDocumentProcessor is a mock implementation of DocumentProcessor
type MockDocumentProcessor struct {
	mock.Mock
}

func (m *MockDocumentProcessor) ProcessStored(ctx context.Context, documentID string) (*domain.ProcessingResult, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProcessingResult), args.Error(1)
}

func (m *MockDocumentProcessor) MarkFailed(ctx context.Context, documentID string, cause error) error {
	args := m.Called(ctx, documentID, cause)
	return args.Error(0)
}

func (m *MockDocumentProcessor) MarkPending(ctx context.Context, documentID string) error {
	args := m.Called(ctx, documentID)
	return args.Error(0)
}

func claimedJob(id, documentID string, retries int32) *domain.ProcessingJob {
	job := domain.NewPendingJob(id, documentID, time.Now())
	job.Status = domain.JobStatusProcessing
	job.Retries = retries
	return job
}

// TestWorker_StartStop tests the worker start and stop functionality
func TestWorker_StartStop(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(250 * time.Millisecond)

	worker.Stop()
	wg.Wait()

	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

// TestWorker_ContextCancellation tests worker stops on context cancellation
func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(150 * time.Millisecond)

	cancel()
	wg.Wait()

	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

// countingProcessor signals every ProcessJobs call.
type countingProcessor struct {
	calls atomic.Int32
	ch    chan struct{}
}

func (p *countingProcessor) ProcessJobs(context.Context) error {
	p.calls.Add(1)
	p.ch <- struct{}{}
	return nil
}

func TestWorker_WakeSkipsTheTicker(t *testing.T) {
	proc := &countingProcessor{ch: make(chan struct{}, 10)}
	worker := NewWorker(proc, time.Hour)

	go worker.Start(context.Background())
	defer worker.Stop()

	worker.Wake()

	select {
	case <-proc.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("wake did not trigger a poll")
	}
	assert.Equal(t, int32(1), proc.calls.Load())
}

func TestWorker_WakeNeverBlocks(t *testing.T) {
	worker := NewWorker(new(MockJobProcessor), time.Hour)

	done := make(chan struct{})
	go func() {
		for range 100 {
			worker.Wake()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wake blocked without a running worker")
	}
}

func TestProcessingWorker_ProcessJobs_NoPendingJobs(t *testing.T) {
	mockRepo := new(MockProcessingJobRepository)
	mockProcessor := new(MockDocumentProcessor)

	mockRepo.On("ClaimPending", mock.Anything, 2).Return([]*domain.ProcessingJob{}, nil)

	worker := NewProcessingWorker(mockRepo, mockProcessor, 2, time.Minute)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockProcessor.AssertNotCalled(t, "ProcessStored", mock.Anything, mock.Anything)
}

func TestProcessingWorker_ProcessJobs_Success(t *testing.T) {
	mockRepo := new(MockProcessingJobRepository)
	mockProcessor := new(MockDocumentProcessor)

	mockRepo.On("ClaimPending", mock.Anything, 2).Return([]*domain.ProcessingJob{
		claimedJob("job-1", "doc-1", 0),
		claimedJob("job-2", "doc-2", 0),
	}, nil)
	mockProcessor.On("ProcessStored", mock.Anything, "doc-1").Return(&domain.ProcessingResult{DocumentID: "doc-1"}, nil)
	mockProcessor.On("ProcessStored", mock.Anything, "doc-2").Return(&domain.ProcessingResult{DocumentID: "doc-2"}, nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.JobStatusCompleted, "").Return(nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-2", domain.JobStatusCompleted, "").Return(nil)

	worker := NewProcessingWorker(mockRepo, mockProcessor, 2, time.Minute)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockProcessor.AssertExpectations(t)
}

func TestProcessingWorker_ProcessJobs_RunsConcurrently(t *testing.T) {
	mockRepo := new(MockProcessingJobRepository)
	mockProcessor := new(MockDocumentProcessor)

	var running, peak atomic.Int32
	track := func(mock.Arguments) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		running.Add(-1)
	}

	mockRepo.On("ClaimPending", mock.Anything, 3).Return([]*domain.ProcessingJob{
		claimedJob("job-1", "doc-1", 0),
		claimedJob("job-2", "doc-2", 0),
		claimedJob("job-3", "doc-3", 0),
	}, nil)
	mockProcessor.On("ProcessStored", mock.Anything, mock.Anything).Run(track).Return(&domain.ProcessingResult{}, nil)
	mockRepo.On("UpdateStatus", mock.Anything, mock.Anything, domain.JobStatusCompleted, "").Return(nil)

	worker := NewProcessingWorker(mockRepo, mockProcessor, 3, time.Minute)
	assert.NoError(t, worker.ProcessJobs(context.Background()))

	assert.Greater(t, peak.Load(), int32(1))
	mockProcessor.AssertNumberOfCalls(t, "ProcessStored", 3)
}

func TestProcessingWorker_TransientFailureIsRetried(t *testing.T) {
	mockRepo := new(MockProcessingJobRepository)
	mockProcessor := new(MockDocumentProcessor)

	mockRepo.On("ClaimPending", mock.Anything, 1).Return([]*domain.ProcessingJob{claimedJob("job-1", "doc-1", 0)}, nil)
	mockProcessor.On("ProcessStored", mock.Anything, "doc-1").Return(nil, errors.New("failed to persist document: connection reset"))
	mockRepo.On("IncrementRetries", mock.Anything, "job-1").Return(nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.JobStatusPending, mock.MatchedBy(func(msg string) bool {
		return msg != ""
	})).Return(nil)
	mockProcessor.On("MarkPending", mock.Anything, "doc-1").Return(nil)

	worker := NewProcessingWorker(mockRepo, mockProcessor, 1, time.Minute)
	assert.NoError(t, worker.ProcessJobs(context.Background()))

	mockRepo.AssertExpectations(t)
	mockProcessor.AssertExpectations(t)
	mockProcessor.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessingWorker_MaxRetriesExceeded(t *testing.T) {
	mockRepo := new(MockProcessingJobRepository)
	mockProcessor := new(MockDocumentProcessor)

	mockRepo.On("ClaimPending", mock.Anything, 1).Return([]*domain.ProcessingJob{claimedJob("job-1", "doc-1", 2)}, nil)
	mockProcessor.On("ProcessStored", mock.Anything, "doc-1").Return(nil, errors.New("vector store down"))
	mockRepo.On("IncrementRetries", mock.Anything, "job-1").Return(nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.JobStatusFailed, mock.MatchedBy(func(msg string) bool {
		return msg != ""
	})).Return(nil)
	mockProcessor.On("MarkFailed", mock.Anything, "doc-1", mock.Anything).Return(nil)

	worker := NewProcessingWorker(mockRepo, mockProcessor, 1, time.Minute)
	assert.NoError(t, worker.ProcessJobs(context.Background()))

	mockRepo.AssertExpectations(t)
	mockProcessor.AssertExpectations(t)
}

func TestProcessingWorker_PermanentFailuresAreNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"empty input", domain.ErrEmptyInput},
		{"model unavailable", domain.ModelUnavailable(errors.New("model crashed"))},
		{"dimension mismatch", domain.DimensionMismatch("stored v1, active v2")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockProcessingJobRepository)
			mockProcessor := new(MockDocumentProcessor)

			mockRepo.On("ClaimPending", mock.Anything, 1).Return([]*domain.ProcessingJob{claimedJob("job-1", "doc-1", 0)}, nil)
			mockProcessor.On("ProcessStored", mock.Anything, "doc-1").Return(nil, tt.err)
			mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.JobStatusFailed, mock.Anything).Return(nil)
			mockProcessor.On("MarkFailed", mock.Anything, "doc-1", tt.err).Return(nil)

			worker := NewProcessingWorker(mockRepo, mockProcessor, 1, time.Minute)
			assert.NoError(t, worker.ProcessJobs(context.Background()))

			mockRepo.AssertExpectations(t)
			mockProcessor.AssertExpectations(t)
			mockRepo.AssertNotCalled(t, "IncrementRetries", mock.Anything, mock.Anything)
		})
	}
}

func TestProcessingWorker_TimeoutLeavesDocumentRetryable(t *testing.T) {
	mockRepo := new(MockProcessingJobRepository)
	mockProcessor := new(MockDocumentProcessor)

	mockRepo.On("ClaimPending", mock.Anything, 1).Return([]*domain.ProcessingJob{claimedJob("job-1", "doc-1", 0)}, nil)
	mockProcessor.On("ProcessStored", mock.Anything, "doc-1").
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)
	mockRepo.On("IncrementRetries", mock.Anything, "job-1").Return(nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.JobStatusPending, mock.Anything).Return(nil)
	mockProcessor.On("MarkPending", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), "doc-1").Return(nil)

	worker := NewProcessingWorker(mockRepo, mockProcessor, 1, 20*time.Millisecond)
	assert.NoError(t, worker.ProcessJobs(context.Background()))

	mockRepo.AssertExpectations(t)
	mockProcessor.AssertExpectations(t)
}

func TestProcessingWorker_DeletedDocument(t *testing.T) {
	mockRepo := new(MockProcessingJobRepository)
	mockProcessor := new(MockDocumentProcessor)

	mockRepo.On("ClaimPending", mock.Anything, 1).Return([]*domain.ProcessingJob{claimedJob("job-1", "doc-1", 0)}, nil)
	mockProcessor.On("ProcessStored", mock.Anything, "doc-1").Return(nil, domain.ErrDocumentNotFound)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.JobStatusFailed, "document no longer exists").Return(nil)

	worker := NewProcessingWorker(mockRepo, mockProcessor, 1, time.Minute)
	assert.NoError(t, worker.ProcessJobs(context.Background()))

	mockRepo.AssertExpectations(t)
	mockProcessor.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessingWorker_RepositoryError(t *testing.T) {
	mockRepo := new(MockProcessingJobRepository)
	mockProcessor := new(MockDocumentProcessor)

	mockRepo.On("ClaimPending", mock.Anything, 1).Return(nil, errors.New("database error"))

	worker := NewProcessingWorker(mockRepo, mockProcessor, 1, time.Minute)
	err := worker.ProcessJobs(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch pending jobs")
	mockRepo.AssertExpectations(t)
}

// flakyProcessor fails its first n polls.
type flakyProcessor struct {
	failures int32
	calls    atomic.Int32
	ok       chan struct{}
}

func (p *flakyProcessor) ProcessJobs(context.Context) error {
	if p.calls.Add(1) <= p.failures {
		return errors.New("connection refused")
	}
	select {
	case p.ok <- struct{}{}:
	default:
	}
	return nil
}

func TestWorker_RecoversAfterFailedPolls(t *testing.T) {
	proc := &flakyProcessor{failures: 3, ok: make(chan struct{}, 1)}
	worker := NewWorker(proc, 5*time.Millisecond)

	go worker.Start(context.Background())
	defer worker.Stop()

	select {
	case <-proc.ok:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not recover after failing polls")
	}
	assert.GreaterOrEqual(t, proc.calls.Load(), int32(4))
}

func TestWorker_PollBacksOffOnError(t *testing.T) {
	proc := &flakyProcessor{failures: 100, ok: make(chan struct{}, 1)}
	worker := NewWorker(proc, 10*time.Millisecond)
	worker.errBackOff.RandomizationFactor = 0

	assert.Equal(t, 10*time.Millisecond, worker.poll(context.Background()))
	assert.Equal(t, 15*time.Millisecond, worker.poll(context.Background()))

	proc.failures = 0
	assert.Equal(t, 10*time.Millisecond, worker.poll(context.Background()))
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	proc := &countingProcessor{ch: make(chan struct{}, 10)}
	worker := NewWorker(proc, time.Hour)
	go worker.Start(context.Background())

	worker.Stop()
	assert.NotPanics(t, worker.Stop)
}

// blockingProcessor holds every round until its context ends.
type blockingProcessor struct {
	started chan struct{}
	once    sync.Once
}

func (p *blockingProcessor) ProcessJobs(ctx context.Context) error {
	p.once.Do(func() { close(p.started) })
	<-ctx.Done()
	return ctx.Err()
}

func TestWorker_StopCancelsRoundInFlight(t *testing.T) {
	proc := &blockingProcessor{started: make(chan struct{})}
	worker := NewWorker(proc, time.Hour)
	go worker.Start(context.Background())

	worker.Wake()
	select {
	case <-proc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("wake did not trigger a poll")
	}

	stopped := make(chan struct{})
	go func() {
		worker.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop waited for a round blocked on its context")
	}
}

func TestWorker_StopAfterParentCancel(t *testing.T) {
	proc := &blockingProcessor{started: make(chan struct{})}
	worker := NewWorker(proc, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Start(ctx)
	worker.Wake()
	<-proc.started

	cancel()
	stopped := make(chan struct{})
	go func() {
		worker.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop hung after the parent context was cancelled")
	}
}
