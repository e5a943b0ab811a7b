package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/sievedata/sieve/internal/domain"
)

// VectorRepository runs similarity queries against chunk embeddings. It
// shares the chunks table with ChunkRepository; the embedding column is
// the vector store and the tenant id column is the namespace.
type VectorRepository struct {
	pool *pgxpool.Pool
}

func NewVectorRepository(pool *pgxpool.Pool) *VectorRepository {
	return &VectorRepository{pool: pool}
}

// Query returns the chunks nearest to the query embedding within a tenant,
// scored as 1 / (1 + cosine distance) so higher is better.
func (r *VectorRepository) Query(ctx context.Context, tenantID string, embedding []float32, topK int) ([]domain.ScoredRef, error) {
	if tenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	if topK <= 0 {
		topK = 10
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, document_id, 1.0 / (1.0 + (embedding <=> $1)) AS score
		 FROM chunks
		 WHERE tenant_id = $2 AND embedding IS NOT NULL
		 ORDER BY score DESC, id ASC
		 LIMIT $3`,
		pgvector.NewVector(embedding), tenantID, topK,
	)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeVectorStore, "vector query failed", err)
	}
	defer rows.Close()

	refs := make([]domain.ScoredRef, 0, topK)
	for rows.Next() {
		var ref domain.ScoredRef
		if err := rows.Scan(&ref.ChunkID, &ref.DocumentID, &ref.Score); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// DeleteNamespace clears all embeddings for a tenant without touching the
// chunk rows themselves.
func (r *VectorRepository) DeleteNamespace(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return domain.ErrMissingTenant
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE chunks SET embedding = NULL WHERE tenant_id = $1`,
		tenantID,
	)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeVectorStore, "namespace delete failed", err)
	}
	return nil
}
