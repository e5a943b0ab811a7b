package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sievedata/sieve/internal/domain"
)

const documentColumns = `id, tenant_id, source_type, source_id, format, content_ref, content_hash, status, status_reason, chunk_count, created_at, updated_at`

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
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.TenantID, d.SourceType, d.SourceID, d.Format, d.ContentRef,
		nullableString(d.ContentHash), d.Status, nullableString(d.StatusReason),
		d.ChunkCount, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (r *DocumentRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Document, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	return scanDocument(row)
}

// GetBySource looks a document up by its external identity within a tenant.
func (r *DocumentRepository) GetBySource(ctx context.Context, tenantID string, sourceType domain.SourceType, sourceID string) (*domain.Document, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE tenant_id = $1 AND source_type = $2 AND source_id = $3`,
		tenantID, sourceType, sourceID,
	)
	return scanDocument(row)
}

// FindByContentHash returns the indexed document carrying the given content
// hash within a tenant, if any. Used by the dedup check before indexing.
func (r *DocumentRepository) FindByContentHash(ctx context.Context, tenantID, hash string) (*domain.Document, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE tenant_id = $1 AND content_hash = $2 AND status = $3
		 ORDER BY created_at ASC
		 LIMIT 1`,
		tenantID, hash, domain.DocumentStatusIndexed,
	)
	return scanDocument(row)
}

// UpdateStatus moves a document to a new status. The reason is only kept
// for error states; advancing clears any previous reason.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, tenantID, id string, status domain.DocumentStatus, reason string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET status = $1, status_reason = $2, updated_at = $3
		 WHERE tenant_id = $4 AND id = $5`,
		status, nullableString(reason), time.Now().UTC(), tenantID, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// TransitionStatus moves a document to a new status only while it still
// holds the expected one, so a cancel landing between two pipeline stages
// is never overwritten. Zero matched rows mean the status changed (or the
// document vanished) underneath the caller.
func (r *DocumentRepository) TransitionStatus(ctx context.Context, tenantID, id string, from, to domain.DocumentStatus, reason string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET status = $1, status_reason = $2, updated_at = $3
		 WHERE tenant_id = $4 AND id = $5 AND status = $6`,
		to, nullableString(reason), time.Now().UTC(), tenantID, id, from,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrInvalidStatusTransition
	}
	return nil
}

// ResetForReingest returns a terminal document to pending for a fresh
// pipeline run, updating the declared format and clearing any old failure
// reason. The content hash and chunk count are left in place so the run
// can compare against the previous ingestion.
func (r *DocumentRepository) ResetForReingest(ctx context.Context, tenantID, id string, format domain.FileFormat) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET status = $1, status_reason = NULL, format = $2, updated_at = $3
		 WHERE tenant_id = $4 AND id = $5`,
		domain.DocumentStatusPending, format, time.Now().UTC(), tenantID, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// SetContentHash records the normalized-text digest computed during extraction.
func (r *DocumentRepository) SetContentHash(ctx context.Context, tenantID, id, hash string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET content_hash = $1, updated_at = $2
		 WHERE tenant_id = $3 AND id = $4`,
		hash, time.Now().UTC(), tenantID, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// SetChunkCount records how many chunks the document produced.
func (r *DocumentRepository) SetChunkCount(ctx context.Context, tenantID, id string, count int) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET chunk_count = $1, updated_at = $2
		 WHERE tenant_id = $3 AND id = $4`,
		count, time.Now().UTC(), tenantID, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// Delete removes a document. Its chunks go with it through the cascading
// foreign key.
func (r *DocumentRepository) Delete(ctx context.Context, tenantID, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM documents WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) ListByTenant(ctx context.Context, tenantID string) ([]*domain.Document, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocumentRows(rows)
}

// CountByStatus returns per-status document counts for a tenant.
func (r *DocumentRepository) CountByStatus(ctx context.Context, tenantID string) (map[domain.DocumentStatus]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM documents WHERE tenant_id = $1 GROUP BY status`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.DocumentStatus]int)
	for rows.Next() {
		var status domain.DocumentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	var contentHash, statusReason *string
	err := row.Scan(&d.ID, &d.TenantID, &d.SourceType, &d.SourceID, &d.Format,
		&d.ContentRef, &contentHash, &d.Status, &statusReason, &d.ChunkCount,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	if contentHash != nil {
		d.ContentHash = *contentHash
	}
	if statusReason != nil {
		d.StatusReason = *statusReason
	}
	return &d, nil
}

func scanDocumentRows(rows pgx.Rows) ([]*domain.Document, error) {
	var docs []*domain.Document
	for rows.Next() {
		var d domain.Document
		var contentHash, statusReason *string
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SourceType, &d.SourceID, &d.Format,
			&d.ContentRef, &contentHash, &d.Status, &statusReason, &d.ChunkCount,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if contentHash != nil {
			d.ContentHash = *contentHash
		}
		if statusReason != nil {
			d.StatusReason = *statusReason
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}
