package service

import (
	"context"
	"log"
	"sort"

	"github.com/sievedata/sieve/internal/domain"
)

const defaultRerankPoolSize = 20

// RerankClient scores query/passage pairs. Implementations are expected
// to be slow and flaky compared to the index stores, so every failure is
// treated as "skip reranking", never as a search failure.
type RerankClient interface {
	ScorePassages(ctx context.Context, query string, passages []string) ([]float64, error)
}

func (s *RetrievalService) rerankActive() bool {
	return s.cfg.RerankEnabled && s.reranker != nil
}

// rerank reorders the candidate pool in place by reranker score and
// reports whether it ran. Candidates keep their fused order on any
// failure, including a score-count mismatch.
func (s *RetrievalService) rerank(ctx context.Context, query string, candidates []*domain.RetrievalCandidate) bool {
	if len(candidates) == 0 {
		return false
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Text
	}

	scores, err := s.reranker.ScorePassages(ctx, query, passages)
	if err != nil {
		log.Printf("Rerank skipped: %v", err)
		return false
	}
	if len(scores) != len(candidates) {
		log.Printf("Rerank skipped: got %d scores for %d candidates", len(scores), len(candidates))
		return false
	}

	for i := range candidates {
		score := scores[i]
		candidates[i].RerankScore = &score
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return *candidates[i].RerankScore > *candidates[j].RerankScore
	})
	return true
}
