package domain

import (
	"errors"
	"fmt"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// MaxJobAttempts is how many times a job may fail transiently before it is
// failed for good.
const MaxJobAttempts = 3

// ProcessingJob is one queued run of the pipeline for a stored document.
// Retries counts failed attempts so far.
type ProcessingJob struct {
	ID          string
	DocumentID  string
	Status      JobStatus
	Retries     int32
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// NewPendingJob queues documentID for processing.
func NewPendingJob(id, documentID string, now time.Time) *ProcessingJob {
	return &ProcessingJob{
		ID:         id,
		DocumentID: documentID,
		Status:     JobStatusPending,
		CreatedAt:  now,
	}
}

// Attempt is the 1-based number of the run in progress.
func (j *ProcessingJob) Attempt() int32 { return j.Retries + 1 }

// RetryBudgetSpent reports whether a failure of the current attempt uses up
// the last of MaxJobAttempts.
func (j *ProcessingJob) RetryBudgetSpent() bool {
	return j.Attempt() >= MaxJobAttempts
}

func (j *ProcessingJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

func ValidateProcessingJob(j *ProcessingJob) error {
	if j == nil {
		return errors.New("processing job cannot be nil")
	}
	switch {
	case j.ID == "":
		return fmt.Errorf("%w: processing job ID", ErrMissingRequiredField)
	case j.DocumentID == "":
		return fmt.Errorf("%w: processing job DocumentID", ErrMissingRequiredField)
	case j.Retries < 0:
		return fmt.Errorf("processing job Retries cannot be negative: %d", j.Retries)
	}
	switch j.Status {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidJobStatus, j.Status)
}
