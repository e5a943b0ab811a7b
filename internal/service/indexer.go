package service

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/sievedata/sieve/internal/domain"
)

const (
	// MaxRetries is the maximum number of retries for a transient index write
	MaxRetries = 3

	defaultIndexConcurrency = 4
)

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// ChunkStore defines the chunk persistence interface the services consume
type ChunkStore interface {
	Create(ctx context.Context, c *domain.Chunk) error
	SetEmbedding(ctx context.Context, tenantID, chunkID string, embedding []float32) error
	GetByIDs(ctx context.Context, tenantID string, ids []string) ([]*domain.Chunk, error)
	ListIDsByDocument(ctx context.Context, tenantID, documentID string) ([]string, error)
	DeleteByDocument(ctx context.Context, tenantID, documentID string) error
	CountByTenant(ctx context.Context, tenantID string) (int, error)
}

// LexicalIndex defines the keyword index interface the services consume
type LexicalIndex interface {
	IndexChunk(ctx context.Context, tenantID, chunkID, text string) error
	RemoveChunk(ctx context.Context, tenantID, chunkID string) error
	Search(ctx context.Context, tenantID, query string, topK int) ([]domain.ScoredRef, error)
}

// Indexer writes chunks into the vector and lexical indexes. Transient
// provider and store failures are retried with exponential backoff; after
// MaxRetries the chunk error aborts the whole document.
type Indexer struct {
	embedding   EmbeddingClient
	chunks      ChunkStore
	lexical     LexicalIndex
	concurrency int
}

// NewIndexer creates a new Indexer instance
func NewIndexer(embedding EmbeddingClient, chunks ChunkStore, lexical LexicalIndex, concurrency int) *Indexer {
	if concurrency <= 0 {
		concurrency = defaultIndexConcurrency
	}
	return &Indexer{
		embedding:   embedding,
		chunks:      chunks,
		lexical:     lexical,
		concurrency: concurrency,
	}
}

// IndexChunks indexes all chunks of one document. Chunks are processed
// concurrently; the first failure cancels the remaining work so a document
// is never reported indexed with holes. onIndexed, when non-nil, is called
// once per fully indexed chunk and must be safe for concurrent use.
func (ix *Indexer) IndexChunks(ctx context.Context, chunks []*domain.Chunk, onIndexed func(*domain.Chunk)) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)

	for _, c := range chunks {
		c := c
		g.Go(func() error {
			if err := ix.indexOne(ctx, c); err != nil {
				return err
			}
			if onIndexed != nil {
				onIndexed(c)
			}
			return nil
		})
	}

	return g.Wait()
}

func (ix *Indexer) indexOne(ctx context.Context, c *domain.Chunk) error {
	if err := domain.ValidateChunk(c); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid chunk", err)
	}

	var embedding []float32
	err := ix.retry(ctx, func() error {
		var embedErr error
		embedding, embedErr = ix.embedding.GenerateEmbedding(ctx, c.Text)
		return embedErr
	})
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeEmbedding, "embedding generation failed for chunk "+c.ID, err)
	}

	err = ix.retry(ctx, func() error {
		return ix.chunks.SetEmbedding(ctx, c.TenantID, c.ID, embedding)
	})
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeVectorStore, "vector write failed for chunk "+c.ID, err)
	}
	c.VectorID = c.ID

	err = ix.retry(ctx, func() error {
		return ix.lexical.IndexChunk(ctx, c.TenantID, c.ID, c.Text)
	})
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeLexicalIndex, "lexical write failed for chunk "+c.ID, err)
	}
	c.LexicalRef = c.ID

	return nil
}

// RemoveDocument clears a document's chunks from the lexical index. The
// vector side goes away with the chunk rows through the cascade delete.
func (ix *Indexer) RemoveDocument(ctx context.Context, tenantID, documentID string) error {
	ids, err := ix.chunks.ListIDsByDocument(ctx, tenantID, documentID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := ix.lexical.RemoveChunk(ctx, tenantID, id); err != nil {
			log.Printf("Failed to remove chunk %s from lexical index: %v", id, err)
			return err
		}
	}
	return nil
}

func (ix *Indexer) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, MaxRetries), ctx))
}
