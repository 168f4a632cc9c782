package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/docintel/internal/domain"
)

const defaultJobTimeout = 5 * time.Minute

// ProcessingJobRepository defines the interface for processing job persistence
type ProcessingJobRepository interface {
	// ClaimPending moves up to limit pending jobs to processing and returns them
	ClaimPending(ctx context.Context, limit int) ([]*domain.ProcessingJob, error)

	UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) error

	IncrementRetries(ctx context.Context, jobID string) error
}

// DocumentProcessor runs the upload path for stored documents
type DocumentProcessor interface {
	ProcessStored(ctx context.Context, documentID string) (*domain.ProcessingResult, error)
	MarkFailed(ctx context.Context, documentID string, cause error) error
	MarkPending(ctx context.Context, documentID string) error
}

// ProcessingWorker processes queued documents, up to concurrency at a time
type ProcessingWorker struct {
	repo        ProcessingJobRepository
	processor   DocumentProcessor
	concurrency int
	jobTimeout  time.Duration
}

// NewProcessingWorker creates a new ProcessingWorker instance
func NewProcessingWorker(repo ProcessingJobRepository, processor DocumentProcessor, concurrency int, jobTimeout time.Duration) *ProcessingWorker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	return &ProcessingWorker{
		repo:        repo,
		processor:   processor,
		concurrency: concurrency,
		jobTimeout:  jobTimeout,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *ProcessingWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimPending(ctx, w.concurrency)
	if err != nil {
		return fmt.Errorf("failed to fetch pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Processing %d pending documents", len(jobs))

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			if err := w.processJob(ctx, job); err != nil {
				log.Printf("Error processing job %s: %v", job.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *ProcessingWorker) processJob(ctx context.Context, job *domain.ProcessingJob) error {
	log.Printf("Processing job %s for document %s", job.ID, job.DocumentID)

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	_, err := w.processor.ProcessStored(jobCtx, job.DocumentID)
	cancel()

	// Bookkeeping must land even when shutdown cancelled the job.
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.repo.UpdateStatus(ctx, job.ID, domain.JobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	log.Printf("Job %s completed successfully", job.ID)
	return nil
}

// handleJobFailure fails permanent errors at once and retries the rest
func (w *ProcessingWorker) handleJobFailure(ctx context.Context, job *domain.ProcessingJob, jobErr error) error {
	log.Printf("Job %s failed: %v", job.ID, jobErr)

	if errors.Is(jobErr, domain.ErrDocumentNotFound) {
		return w.repo.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, "document no longer exists")
	}

	if domain.IsPermanent(jobErr) {
		log.Printf("Job %s failed permanently, not retrying", job.ID)
		return w.fail(ctx, job, jobErr)
	}

	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	if job.RetryBudgetSpent() {
		log.Printf("Job %s exceeded max attempts (%d), marking as failed", job.ID, domain.MaxJobAttempts)
		return w.fail(ctx, job, fmt.Errorf("max retries exceeded: %w", jobErr))
	}

	log.Printf("Job %s will be retried (attempt %d/%d)", job.ID, job.Attempt(), domain.MaxJobAttempts)
	errMsg := fmt.Sprintf("retry %d: %v", job.Attempt(), jobErr)
	if err := w.repo.UpdateStatus(ctx, job.ID, domain.JobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}
	if err := w.processor.MarkPending(ctx, job.DocumentID); err != nil {
		return fmt.Errorf("failed to reset document status: %w", err)
	}
	return nil
}

func (w *ProcessingWorker) fail(ctx context.Context, job *domain.ProcessingJob, jobErr error) error {
	if err := w.repo.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, domain.FailureMessage(jobErr)); err != nil {
		return fmt.Errorf("failed to update job status to failed: %w", err)
	}
	if err := w.processor.MarkFailed(ctx, job.DocumentID, jobErr); err != nil {
		return fmt.Errorf("failed to mark document failed: %w", err)
	}
	return nil
}
