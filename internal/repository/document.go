package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/docintel/internal/domain"
	"github.com/cloo-solutions/docintel/internal/pagination"
)

const documentColumns = `id, owner_id, filename, title, file_type, content, content_hash, summary, status,
	truncated, word_count, error, storage_key, uploaded_at, processed_at`

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO documents (id, owner_id, filename, title, file_type, content, content_hash, summary, status,
		                        truncated, word_count, error, storage_key, uploaded_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		d.ID, d.OwnerID, d.Filename, d.Title, d.FileType, d.Content, d.ContentHash, d.Summary, d.Status,
		d.Truncated, d.WordCount, nullableString(d.Error), nullableString(d.StorageKey), d.UploadedAt, d.ProcessedAt,
	)
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrDocumentNotFound
	}

	d, err := scanDocument(r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return d, nil
}

// GetCompleted returns the completed documents among ids, keyed by ID.
func (r *DocumentRepository) GetCompleted(ctx context.Context, ids []string) (map[string]*domain.Document, error) {
	out := make(map[string]*domain.Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ANY($1::uuid[]) AND status = $2`,
		ids, domain.DocumentStatusCompleted,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out[d.ID] = d
	}
	return out, rows.Err()
}

// ListByOwner pages through an owner's documents, newest first.
func (r *DocumentRepository) ListByOwner(ctx context.Context, ownerID string, cursor *pagination.Cursor, limit int) (pagination.Page[*domain.Document], error) {
	limit = pagination.ClampLimit(limit)

	var rows pgx.Rows
	var err error
	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+` FROM documents
			 WHERE owner_id = $1 AND (uploaded_at, id) < ($2, $3)
			 ORDER BY uploaded_at DESC, id DESC
			 LIMIT $4`,
			ownerID, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+documentColumns+` FROM documents
			 WHERE owner_id = $1
			 ORDER BY uploaded_at DESC, id DESC
			 LIMIT $2`,
			ownerID, limit+1,
		)
	}
	if err != nil {
		return pagination.Page[*domain.Document]{}, err
	}
	defer rows.Close()

	var items []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return pagination.Page[*domain.Document]{}, err
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return pagination.Page[*domain.Document]{}, err
	}

	return pagination.NewPage(items, limit, func(d *domain.Document) (string, time.Time) {
		return d.ID, d.UploadedAt
	}), nil
}

// ListIDs returns every document ID in upload order.
func (r *DocumentRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM documents ORDER BY uploaded_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) error {
	var processedAt *time.Time
	if status == domain.DocumentStatusCompleted || status == domain.DocumentStatusFailed {
		now := time.Now().UTC()
		processedAt = &now
	}

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET status = $1, error = $2, processed_at = $3 WHERE id = $4`,
		status, nullableString(errMsg), processedAt, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// SaveResult stores the derived artifacts and marks the document completed.
func (r *DocumentRepository) SaveResult(ctx context.Context, res *domain.ProcessingResult) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents
		 SET content_hash = $1, summary = $2, truncated = $3, word_count = $4,
		     status = $5, error = NULL, processed_at = $6
		 WHERE id = $7`,
		res.ContentHash, res.Summary, res.Truncated, res.WordCount,
		domain.DocumentStatusCompleted, time.Now().UTC(), res.DocumentID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) SetStorageKey(ctx context.Context, id, key string) error {
	_, err := r.db.Exec(ctx, `UPDATE documents SET storage_key = $1 WHERE id = $2`, nullableString(key), id)
	return err
}

// Delete removes the document. Chunks, vectors and jobs cascade.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrDocumentNotFound
	}

	cmdTag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	var errMsg, storageKey pgtype.Text
	err := row.Scan(&d.ID, &d.OwnerID, &d.Filename, &d.Title, &d.FileType, &d.Content, &d.ContentHash, &d.Summary,
		&d.Status, &d.Truncated, &d.WordCount, &errMsg, &storageKey, &d.UploadedAt, &d.ProcessedAt)
	if err != nil {
		return nil, err
	}
	if errMsg.Valid {
		d.Error = errMsg.String
	}
	if storageKey.Valid {
		d.StorageKey = storageKey.String
	}
	return &d, nil
}
