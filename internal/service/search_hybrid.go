package service

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sievedata/sieve/internal/domain"
	"github.com/sievedata/sieve/internal/telemetry"
)

const (
	// DefaultRRFK is the standard reciprocal rank fusion constant.
	DefaultRRFK = 60

	// DefaultTopNPerSignal bounds how deep each signal's ranked list goes.
	DefaultTopNPerSignal = 50

	defaultSearchLimit     = 10
	defaultSnippetMaxChars = 220
)

// VectorSearcher defines the similarity search interface the retriever consumes
type VectorSearcher interface {
	Query(ctx context.Context, tenantID string, embedding []float32, topK int) ([]domain.ScoredRef, error)
}

// RetrievalConfig tunes hybrid search.
type RetrievalConfig struct {
	RRFK           int
	TopNPerSignal  int
	RerankEnabled  bool
	RerankPoolSize int
}

// SearchInput represents one search request. Embedding, when set, is used
// as the query vector directly and the embed call is skipped. Rerank
// overrides the configured default; nil keeps it.
type SearchInput struct {
	TenantID  string
	Query     string
	Embedding []float32
	Limit     int
	Rerank    *bool
}

// SearchResult is one ranked chunk returned to the caller.
type SearchResult struct {
	ChunkID     string
	DocumentID  string
	Snippet     string
	Text        string
	Metadata    map[string]string
	Score       float64
	VectorRank  int // 1-based; 0 when the chunk was absent from the signal
	LexicalRank int
	RerankScore *float64
}

// SearchOutput carries results plus flags describing how they were produced.
type SearchOutput struct {
	Results  []SearchResult
	Degraded bool // one signal failed; results come from the other alone
	Reranked bool
}

// RetrievalService runs hybrid search: both signals queried concurrently,
// fused with reciprocal rank fusion, optionally reordered by a reranker.
// A single failing signal degrades the search instead of failing it; the
// reranker failing never affects the response beyond ordering.
type RetrievalService struct {
	embedding EmbeddingClient
	vectors   VectorSearcher
	lexical   LexicalIndex
	chunks    ChunkStore
	reranker  RerankClient // nil disables the rerank stage
	cfg       RetrievalConfig
}

// NewRetrievalService creates a new RetrievalService instance
func NewRetrievalService(
	embedding EmbeddingClient,
	vectors VectorSearcher,
	lexical LexicalIndex,
	chunks ChunkStore,
	reranker RerankClient,
	cfg RetrievalConfig,
) *RetrievalService {
	if cfg.RRFK <= 0 {
		cfg.RRFK = DefaultRRFK
	}
	if cfg.TopNPerSignal <= 0 {
		cfg.TopNPerSignal = DefaultTopNPerSignal
	}
	if cfg.RerankPoolSize <= 0 {
		cfg.RerankPoolSize = defaultRerankPoolSize
	}
	return &RetrievalService{
		embedding: embedding,
		vectors:   vectors,
		lexical:   lexical,
		chunks:    chunks,
		reranker:  reranker,
		cfg:       cfg,
	}
}

// Search runs a hybrid query within one tenant's namespace.
func (s *RetrievalService) Search(ctx context.Context, input SearchInput) (*SearchOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Search", telemetry.SpanAttributes{
		TenantID:  input.TenantID,
		Operation: "search",
	})
	defer span.End()

	if input.TenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	if strings.TrimSpace(input.Query) == "" {
		return nil, domain.ErrEmptyQuery
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	useRerank := s.rerankActive()
	if input.Rerank != nil {
		useRerank = *input.Rerank && s.reranker != nil
	}

	var (
		wg          sync.WaitGroup
		vectorRefs  []domain.ScoredRef
		lexicalRefs []domain.ScoredRef
		vectorErr   error
		lexicalErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		embedding := input.Embedding
		if len(embedding) == 0 {
			var err error
			embedding, err = s.embedding.GenerateEmbedding(ctx, input.Query)
			if err != nil {
				vectorErr = domain.NewDomainErrorWithCause(domain.ErrCodeEmbedding, "query embedding failed", err)
				return
			}
		}
		vectorRefs, vectorErr = s.vectors.Query(ctx, input.TenantID, embedding, s.cfg.TopNPerSignal)
	}()
	go func() {
		defer wg.Done()
		lexicalRefs, lexicalErr = s.lexical.Search(ctx, input.TenantID, input.Query, s.cfg.TopNPerSignal)
	}()
	wg.Wait()

	if vectorErr != nil && lexicalErr != nil {
		span.SetError(vectorErr)
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError,
			"both retrieval signals failed", vectorErr)
	}

	out := &SearchOutput{}
	if vectorErr != nil {
		log.Printf("Vector signal failed, degrading to lexical only: %v", vectorErr)
		out.Degraded = true
	}
	if lexicalErr != nil {
		log.Printf("Lexical signal failed, degrading to vector only: %v", lexicalErr)
		out.Degraded = true
	}

	candidates := fuseRRF(vectorRefs, lexicalRefs, s.cfg.RRFK)
	if len(candidates) == 0 {
		return out, nil
	}

	// Hydrate everything that can make the response: the final page plus
	// the rerank pool.
	need := limit
	if useRerank && s.cfg.RerankPoolSize > need {
		need = s.cfg.RerankPoolSize
	}
	if need > len(candidates) {
		need = len(candidates)
	}
	candidates = candidates[:need]

	candidates, err := s.hydrate(ctx, input.TenantID, candidates)
	if err != nil {
		return nil, err
	}

	if useRerank {
		out.Reranked = s.rerank(ctx, input.Query, candidates)
	}

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out.Results = make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		score := c.FusedScore
		if c.RerankScore != nil {
			score = *c.RerankScore
		}
		out.Results = append(out.Results, SearchResult{
			ChunkID:     c.ChunkID,
			DocumentID:  c.DocumentID,
			Snippet:     makeSnippet(c.Text),
			Text:        c.Text,
			Metadata:    c.Metadata,
			Score:       score,
			VectorRank:  c.VectorRank,
			LexicalRank: c.LexicalRank,
			RerankScore: c.RerankScore,
		})
	}
	return out, nil
}

// fuseRRF merges the two ranked lists with reciprocal rank fusion:
// each chunk scores the sum of 1/(k+rank) over the lists containing it,
// ranks counted from 1. Ties break on the higher raw signal score, then
// on the lexicographically smaller chunk id.
func fuseRRF(vector, lexical []domain.ScoredRef, k int) []*domain.RetrievalCandidate {
	byID := make(map[string]*domain.RetrievalCandidate)

	get := func(ref domain.ScoredRef) *domain.RetrievalCandidate {
		c, ok := byID[ref.ChunkID]
		if !ok {
			c = &domain.RetrievalCandidate{ChunkID: ref.ChunkID, DocumentID: ref.DocumentID}
			byID[ref.ChunkID] = c
		}
		if c.DocumentID == "" {
			c.DocumentID = ref.DocumentID
		}
		return c
	}

	for i, ref := range vector {
		c := get(ref)
		c.VectorRank = i + 1
		c.VectorScore = ref.Score
		c.FusedScore += 1.0 / float64(k+i+1)
	}
	for i, ref := range lexical {
		c := get(ref)
		c.LexicalRank = i + 1
		c.LexicalScore = ref.Score
		c.FusedScore += 1.0 / float64(k+i+1)
	}

	out := make([]*domain.RetrievalCandidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		si, sj := out[i].MaxSignalScore(), out[j].MaxSignalScore()
		if si != sj {
			return si > sj
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// hydrate fills text and metadata from the chunk store. Lookups are tenant
// scoped, so anything that does not belong to the tenant simply drops out.
func (s *RetrievalService) hydrate(ctx context.Context, tenantID string, candidates []*domain.RetrievalCandidate) ([]*domain.RetrievalCandidate, error) {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ChunkID)
	}

	chunks, err := s.chunks.GetByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	kept := candidates[:0]
	for _, c := range candidates {
		chunk, ok := byID[c.ChunkID]
		if !ok {
			continue
		}
		c.DocumentID = chunk.DocumentID
		c.Text = chunk.Text
		c.Metadata = chunk.Metadata
		kept = append(kept, c)
	}
	return kept, nil
}

func makeSnippet(content string) string {
	if content == "" {
		return ""
	}
	clean := strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(clean) <= defaultSnippetMaxChars {
		return clean
	}
	// Cut on a rune boundary so multi-byte text stays valid UTF-8.
	runes := []rune(clean)
	return string(runes[:defaultSnippetMaxChars-3]) + "..."
}
