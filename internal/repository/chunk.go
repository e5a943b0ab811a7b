package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/sievedata/sieve/internal/domain"
)

// ChunkRepository handles persistence of document chunks and their embeddings.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// Create inserts a single chunk without an embedding. The embedding is
// attached later by the indexer once it has been generated.
func (r *ChunkRepository) Create(ctx context.Context, c *domain.Chunk) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO chunks
			(id, document_id, tenant_id, source_type, source_id, chunk_index, chunk_total, content, content_hash, metadata, created_at)
		 VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.DocumentID, c.TenantID, c.SourceType, c.SourceID,
		c.Index, c.Total, c.Text, c.ContentHash, c.Metadata, createdAt,
	)
	return err
}

// SetEmbedding stores the embedding vector for a chunk.
func (r *ChunkRepository) SetEmbedding(ctx context.Context, tenantID, chunkID string, embedding []float32) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE chunks SET embedding = $1 WHERE tenant_id = $2 AND id = $3`,
		pgvector.NewVector(embedding), tenantID, chunkID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrChunkNotFound
	}
	return nil
}

// GetByIDs hydrates chunks by id within a tenant. Missing ids are silently
// absent from the result; callers decide whether that matters.
func (r *ChunkRepository) GetByIDs(ctx context.Context, tenantID string, ids []string) ([]*domain.Chunk, error) {
	if len(ids) == 0 {
		return []*domain.Chunk{}, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, document_id, tenant_id, source_type, source_id, chunk_index, chunk_total, content, content_hash, metadata, created_at
		 FROM chunks WHERE tenant_id = $1 AND id = ANY($2)`,
		tenantID, ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func (r *ChunkRepository) ListByDocument(ctx context.Context, tenantID, documentID string) ([]*domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, document_id, tenant_id, source_type, source_id, chunk_index, chunk_total, content, content_hash, metadata, created_at
		 FROM chunks WHERE tenant_id = $1 AND document_id = $2 ORDER BY chunk_index ASC`,
		tenantID, documentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// ListIDsByDocument returns chunk ids only, for callers that just need to
// clean up secondary indexes.
func (r *ChunkRepository) ListIDsByDocument(ctx context.Context, tenantID, documentID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM chunks WHERE tenant_id = $1 AND document_id = $2`,
		tenantID, documentID,
	)
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

// DeleteByDocument removes all chunks of a document.
func (r *ChunkRepository) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM chunks WHERE tenant_id = $1 AND document_id = $2`,
		tenantID, documentID,
	)
	return err
}

func (r *ChunkRepository) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE tenant_id = $1`,
		tenantID,
	).Scan(&n)
	return n, err
}

func scanChunkRows(rows pgx.Rows) ([]*domain.Chunk, error) {
	var chunks []*domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.TenantID, &c.SourceType, &c.SourceID,
			&c.Index, &c.Total, &c.Text, &c.ContentHash, &c.Metadata, &c.CreatedAt); err != nil {
			return nil, err
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}
