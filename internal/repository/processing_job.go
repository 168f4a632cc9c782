package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/docintel/internal/domain"
)

const jobColumns = `id, document_id, status, retries, error, created_at, processed_at`

type ProcessingJobRepository struct {
	db dbtx
}

func NewProcessingJobRepository(pool *pgxpool.Pool) *ProcessingJobRepository {
	return &ProcessingJobRepository{db: pool}
}

func NewProcessingJobRepositoryWithTx(tx pgx.Tx) *ProcessingJobRepository {
	return &ProcessingJobRepository{db: tx}
}

func (r *ProcessingJobRepository) Create(ctx context.Context, job *domain.ProcessingJob) error {
	if err := domain.ValidateProcessingJob(job); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO processing_jobs (id, document_id, status, retries, error, created_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.DocumentID, job.Status, job.Retries, nullableString(job.Error), job.CreatedAt, job.ProcessedAt,
	)
	return err
}

func (r *ProcessingJobRepository) GetByID(ctx context.Context, id string) (*domain.ProcessingJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// ClaimPending moves up to limit pending jobs to processing. Concurrent
// workers never claim the same job.
func (r *ProcessingJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.ProcessingJob, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM processing_jobs
			 WHERE status = $1
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE processing_jobs
		 SET status = $3,
		     processed_at = NULL
		 FROM cte
		 WHERE processing_jobs.id = cte.id
		 RETURNING processing_jobs.id, processing_jobs.document_id, processing_jobs.status, processing_jobs.retries,
		           processing_jobs.error, processing_jobs.created_at, processing_jobs.processed_at`,
		domain.JobStatusPending, limit, domain.JobStatusProcessing,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.ProcessingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// HasActive reports whether the document has a pending or running job.
func (r *ProcessingJobRepository) HasActive(ctx context.Context, documentID string) (bool, error) {
	var active bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processing_jobs WHERE document_id = $1 AND status IN ($2, $3))`,
		documentID, domain.JobStatusPending, domain.JobStatusProcessing,
	).Scan(&active)
	return active, err
}

func (r *ProcessingJobRepository) UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errMsg string) error {
	var processedAt *time.Time
	if status == domain.JobStatusCompleted || status == domain.JobStatusFailed {
		now := time.Now().UTC()
		processedAt = &now
	}

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE processing_jobs SET status = $1, error = $2, processed_at = $3 WHERE id = $4`,
		status, nullableString(errMsg), processedAt, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *ProcessingJobRepository) IncrementRetries(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `UPDATE processing_jobs SET retries = retries + 1 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// ResetStale returns jobs left in processing by a crashed worker to pending.
func (r *ProcessingJobRepository) ResetStale(ctx context.Context) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE processing_jobs SET status = $1 WHERE status = $2`,
		domain.JobStatusPending, domain.JobStatusProcessing,
	)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*domain.ProcessingJob, error) {
	var job domain.ProcessingJob
	var errMsg pgtype.Text
	if err := row.Scan(&job.ID, &job.DocumentID, &job.Status, &job.Retries, &errMsg, &job.CreatedAt, &job.ProcessedAt); err != nil {
		return nil, err
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	return &job, nil
}
