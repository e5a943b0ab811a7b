//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sievedata/sieve/internal/domain"
	"github.com/sievedata/sieve/internal/testutil"
)

func newTestDocument(tenantID string) *domain.Document {
	now := time.Now().UTC().Truncate(time.Microsecond)
	d := domain.NewDocument(uuid.NewString(), tenantID, domain.SourceTypeFile, uuid.NewString(), domain.FormatText, "", now)
	return d
}

func TestDocumentRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	d := newTestDocument("tenant-1")
	require.NoError(t, repo.Create(ctx, d))

	retrieved, err := repo.GetByID(ctx, "tenant-1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, retrieved.ID)
	assert.Equal(t, d.TenantID, retrieved.TenantID)
	assert.Equal(t, d.SourceType, retrieved.SourceType)
	assert.Equal(t, domain.DocumentStatusPending, retrieved.Status)
	assert.Empty(t, retrieved.ContentHash)
}

func TestDocumentRepository_GetByID_WrongTenant(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	d := newTestDocument("tenant-1")
	require.NoError(t, repo.Create(ctx, d))

	_, err := repo.GetByID(ctx, "tenant-2", d.ID)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentRepository_StatusLifecycle(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	d := newTestDocument("tenant-1")
	require.NoError(t, repo.Create(ctx, d))

	require.NoError(t, repo.UpdateStatus(ctx, "tenant-1", d.ID, domain.DocumentStatusExtracting, ""))
	require.NoError(t, repo.UpdateStatus(ctx, "tenant-1", d.ID, domain.DocumentStatusError, "extraction failed: corrupt payload"))

	retrieved, err := repo.GetByID(ctx, "tenant-1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusError, retrieved.Status)
	assert.Equal(t, "extraction failed: corrupt payload", retrieved.StatusReason)
}

func TestDocumentRepository_TransitionStatus_GuardsExpectedState(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	d := newTestDocument("tenant-1")
	require.NoError(t, repo.Create(ctx, d))

	require.NoError(t, repo.TransitionStatus(ctx, "tenant-1", d.ID,
		domain.DocumentStatusPending, domain.DocumentStatusExtracting, ""))

	// A stale expectation must not move the row
	err := repo.TransitionStatus(ctx, "tenant-1", d.ID,
		domain.DocumentStatusPending, domain.DocumentStatusChunking, "")
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)

	retrieved, err := repo.GetByID(ctx, "tenant-1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusExtracting, retrieved.Status)
}

func TestDocumentRepository_ResetForReingest(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	d := newTestDocument("tenant-1")
	require.NoError(t, repo.Create(ctx, d))
	require.NoError(t, repo.SetContentHash(ctx, "tenant-1", d.ID, "abc123"))
	require.NoError(t, repo.UpdateStatus(ctx, "tenant-1", d.ID, domain.DocumentStatusError, "boom"))

	require.NoError(t, repo.ResetForReingest(ctx, "tenant-1", d.ID, domain.FormatMarkup))

	retrieved, err := repo.GetByID(ctx, "tenant-1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusPending, retrieved.Status)
	assert.Empty(t, retrieved.StatusReason)
	assert.Equal(t, domain.FormatMarkup, retrieved.Format)
	// The previous run's hash survives for the no-op comparison
	assert.Equal(t, "abc123", retrieved.ContentHash)
}

func TestDocumentRepository_UpdateStatus_NotFound(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	err := repo.UpdateStatus(ctx, "tenant-1", uuid.NewString(), domain.DocumentStatusExtracting, "")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentRepository_FindByContentHash(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	d := newTestDocument("tenant-1")
	require.NoError(t, repo.Create(ctx, d))
	require.NoError(t, repo.SetContentHash(ctx, "tenant-1", d.ID, "abc123"))

	// Only indexed documents count as duplicates
	_, err := repo.FindByContentHash(ctx, "tenant-1", "abc123")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)

	for _, status := range []domain.DocumentStatus{
		domain.DocumentStatusExtracting,
		domain.DocumentStatusChunking,
		domain.DocumentStatusIndexing,
		domain.DocumentStatusIndexed,
	} {
		require.NoError(t, repo.UpdateStatus(ctx, "tenant-1", d.ID, status, ""))
	}

	found, err := repo.FindByContentHash(ctx, "tenant-1", "abc123")
	require.NoError(t, err)
	assert.Equal(t, d.ID, found.ID)

	// Same hash in another tenant is not a duplicate
	_, err = repo.FindByContentHash(ctx, "tenant-2", "abc123")
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestDocumentRepository_DeleteCascadesChunks(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	chunkRepo := NewChunkRepository(pool)

	d := newTestDocument("tenant-1")
	require.NoError(t, docRepo.Create(ctx, d))

	c := &domain.Chunk{
		ID:          uuid.NewString(),
		DocumentID:  d.ID,
		TenantID:    "tenant-1",
		SourceType:  d.SourceType,
		SourceID:    d.SourceID,
		Index:       0,
		Total:       1,
		Text:        "chunk text",
		ContentHash: "hash-0",
		Metadata:    map[string]string{"source": "test"},
	}
	require.NoError(t, chunkRepo.Create(ctx, c))

	require.NoError(t, docRepo.Delete(ctx, "tenant-1", d.ID))

	n, err := chunkRepo.CountByTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDocumentRepository_CountByStatus(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewDocumentRepository(pool)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, newTestDocument("tenant-1")))
	}
	d := newTestDocument("tenant-1")
	require.NoError(t, repo.Create(ctx, d))
	require.NoError(t, repo.UpdateStatus(ctx, "tenant-1", d.ID, domain.DocumentStatusError, "boom"))

	counts, err := repo.CountByStatus(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.DocumentStatusPending])
	assert.Equal(t, 1, counts[domain.DocumentStatusError])
}

func TestChunkRepository_GetByIDs_TenantScoped(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	chunkRepo := NewChunkRepository(pool)

	d := newTestDocument("tenant-1")
	require.NoError(t, docRepo.Create(ctx, d))

	c := &domain.Chunk{
		ID:          uuid.NewString(),
		DocumentID:  d.ID,
		TenantID:    "tenant-1",
		SourceType:  d.SourceType,
		SourceID:    d.SourceID,
		Index:       0,
		Total:       1,
		Text:        "isolated chunk",
		ContentHash: "hash-0",
	}
	require.NoError(t, chunkRepo.Create(ctx, c))

	chunks, err := chunkRepo.GetByIDs(ctx, "tenant-1", []string{c.ID})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "isolated chunk", chunks[0].Text)

	chunks, err = chunkRepo.GetByIDs(ctx, "tenant-2", []string{c.ID})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestVectorRepository_QueryRanksByDistance(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	docRepo := NewDocumentRepository(pool)
	chunkRepo := NewChunkRepository(pool)
	vectorRepo := NewVectorRepository(pool)

	d := newTestDocument("tenant-1")
	require.NoError(t, docRepo.Create(ctx, d))

	embed := func(seed float32) []float32 {
		v := make([]float32, 1536)
		v[0] = 1
		v[1] = seed
		return v
	}

	near := &domain.Chunk{ID: "chunk-near", DocumentID: d.ID, TenantID: "tenant-1", SourceType: d.SourceType, SourceID: d.SourceID, Index: 0, Total: 2, Text: "near", ContentHash: "h0"}
	far := &domain.Chunk{ID: "chunk-far", DocumentID: d.ID, TenantID: "tenant-1", SourceType: d.SourceType, SourceID: d.SourceID, Index: 1, Total: 2, Text: "far", ContentHash: "h1"}
	require.NoError(t, chunkRepo.Create(ctx, near))
	require.NoError(t, chunkRepo.Create(ctx, far))
	require.NoError(t, chunkRepo.SetEmbedding(ctx, "tenant-1", near.ID, embed(0.05)))
	require.NoError(t, chunkRepo.SetEmbedding(ctx, "tenant-1", far.ID, embed(0.9)))

	refs, err := vectorRepo.Query(ctx, "tenant-1", embed(0), 10)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "chunk-near", refs[0].ChunkID)
	assert.Equal(t, d.ID, refs[0].DocumentID)
	assert.Greater(t, refs[0].Score, refs[1].Score)

	// Embeddings are namespaced by tenant
	refs, err = vectorRepo.Query(ctx, "tenant-2", embed(0), 10)
	require.NoError(t, err)
	assert.Empty(t, refs)
}
