package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sievedata/sieve/internal/domain"
)

// fakeEmbedder returns a fixed-size embedding, optionally failing a set
// number of times first.
type fakeEmbedder struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	err       error
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls <= f.failFirst {
		return nil, errors.New("transient provider error")
	}
	return make([]float32, 8), nil
}

// fakeChunkStore is an in-memory ChunkStore.
type fakeChunkStore struct {
	mu         sync.Mutex
	chunks     map[string]*domain.Chunk
	embeddings map[string][]float32
	setErr     error
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{
		chunks:     make(map[string]*domain.Chunk),
		embeddings: make(map[string][]float32),
	}
}

func (f *fakeChunkStore) Create(ctx context.Context, c *domain.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.chunks[c.ID] = &cp
	return nil
}

func (f *fakeChunkStore) SetEmbedding(ctx context.Context, tenantID, chunkID string, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	c, ok := f.chunks[chunkID]
	if !ok || c.TenantID != tenantID {
		return domain.ErrChunkNotFound
	}
	f.embeddings[chunkID] = embedding
	return nil
}

func (f *fakeChunkStore) GetByIDs(ctx context.Context, tenantID string, ids []string) ([]*domain.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Chunk
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok && c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunkStore) ListIDsByDocument(ctx context.Context, tenantID, documentID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, c := range f.chunks {
		if c.TenantID == tenantID && c.DocumentID == documentID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeChunkStore) DeleteByDocument(ctx context.Context, tenantID, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.chunks {
		if c.TenantID == tenantID && c.DocumentID == documentID {
			delete(f.chunks, id)
			delete(f.embeddings, id)
		}
	}
	return nil
}

func (f *fakeChunkStore) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.chunks {
		if c.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

// fakeLexical is an in-memory LexicalIndex.
type fakeLexical struct {
	mu       sync.Mutex
	indexed  map[string]string // chunk id -> text
	indexErr error
}

func newFakeLexical() *fakeLexical {
	return &fakeLexical{indexed: make(map[string]string)}
}

func (f *fakeLexical) IndexChunk(ctx context.Context, tenantID, chunkID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexErr != nil {
		return f.indexErr
	}
	f.indexed[tenantID+"/"+chunkID] = text
	return nil
}

func (f *fakeLexical) RemoveChunk(ctx context.Context, tenantID, chunkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.indexed, tenantID+"/"+chunkID)
	return nil
}

func (f *fakeLexical) Search(ctx context.Context, tenantID, query string, topK int) ([]domain.ScoredRef, error) {
	return nil, nil
}

func testChunk(id string, index, total int) *domain.Chunk {
	return &domain.Chunk{
		ID:          id,
		DocumentID:  "doc-1",
		TenantID:    "tenant-1",
		SourceType:  domain.SourceTypeFile,
		SourceID:    "src-1",
		Index:       index,
		Total:       total,
		Text:        "chunk " + id,
		ContentHash: "hash-" + id,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestIndexer_IndexChunks(t *testing.T) {
	embedder := &fakeEmbedder{}
	store := newFakeChunkStore()
	lexical := newFakeLexical()
	ix := NewIndexer(embedder, store, lexical, 2)

	chunks := []*domain.Chunk{testChunk("c1", 0, 3), testChunk("c2", 1, 3), testChunk("c3", 2, 3)}
	for _, c := range chunks {
		require.NoError(t, store.Create(context.Background(), c))
	}

	require.NoError(t, ix.IndexChunks(context.Background(), chunks, nil))

	assert.Len(t, store.embeddings, 3)
	assert.Len(t, lexical.indexed, 3)
	for _, c := range chunks {
		assert.Equal(t, c.ID, c.VectorID)
		assert.Equal(t, c.ID, c.LexicalRef)
	}
}

func TestIndexer_ReportsIndexedChunks(t *testing.T) {
	store := newFakeChunkStore()
	ix := NewIndexer(&fakeEmbedder{}, store, newFakeLexical(), 2)

	chunks := []*domain.Chunk{testChunk("c1", 0, 2), testChunk("c2", 1, 2)}
	for _, c := range chunks {
		require.NoError(t, store.Create(context.Background(), c))
	}

	var mu sync.Mutex
	var seen []string
	require.NoError(t, ix.IndexChunks(context.Background(), chunks, func(c *domain.Chunk) {
		mu.Lock()
		seen = append(seen, c.ID)
		mu.Unlock()
	}))
	assert.ElementsMatch(t, []string{"c1", "c2"}, seen)
}

func TestIndexer_RetriesTransientEmbeddingFailure(t *testing.T) {
	embedder := &fakeEmbedder{failFirst: 2}
	store := newFakeChunkStore()
	ix := NewIndexer(embedder, store, newFakeLexical(), 1)

	c := testChunk("c1", 0, 1)
	require.NoError(t, store.Create(context.Background(), c))

	require.NoError(t, ix.IndexChunks(context.Background(), []*domain.Chunk{c}, nil))
	assert.Equal(t, 3, embedder.calls)
}

func TestIndexer_PersistentEmbeddingFailure(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("provider down")}
	store := newFakeChunkStore()
	ix := NewIndexer(embedder, store, newFakeLexical(), 1)

	c := testChunk("c1", 0, 1)
	require.NoError(t, store.Create(context.Background(), c))

	err := ix.IndexChunks(context.Background(), []*domain.Chunk{c}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingService)
}

func TestIndexer_VectorWriteFailure(t *testing.T) {
	store := newFakeChunkStore()
	store.setErr = errors.New("db down")
	ix := NewIndexer(&fakeEmbedder{}, store, newFakeLexical(), 1)

	c := testChunk("c1", 0, 1)
	err := ix.IndexChunks(context.Background(), []*domain.Chunk{c}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVectorStore)
}

func TestIndexer_LexicalWriteFailure(t *testing.T) {
	store := newFakeChunkStore()
	lexical := newFakeLexical()
	lexical.indexErr = errors.New("redis down")
	ix := NewIndexer(&fakeEmbedder{}, store, lexical, 1)

	c := testChunk("c1", 0, 1)
	require.NoError(t, store.Create(context.Background(), c))

	err := ix.IndexChunks(context.Background(), []*domain.Chunk{c}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLexicalIndex)
}

func TestIndexer_InvalidChunkRejected(t *testing.T) {
	ix := NewIndexer(&fakeEmbedder{}, newFakeChunkStore(), newFakeLexical(), 1)

	c := testChunk("c1", 5, 3) // index out of range
	err := ix.IndexChunks(context.Background(), []*domain.Chunk{c}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.NewDomainError(domain.ErrCodeValidation, ""))
}

func TestIndexer_RemoveDocument(t *testing.T) {
	embedder := &fakeEmbedder{}
	store := newFakeChunkStore()
	lexical := newFakeLexical()
	ix := NewIndexer(embedder, store, lexical, 2)

	chunks := []*domain.Chunk{testChunk("c1", 0, 2), testChunk("c2", 1, 2)}
	for _, c := range chunks {
		require.NoError(t, store.Create(context.Background(), c))
	}
	require.NoError(t, ix.IndexChunks(context.Background(), chunks, nil))

	require.NoError(t, ix.RemoveDocument(context.Background(), "tenant-1", "doc-1"))
	assert.Empty(t, lexical.indexed)
}
