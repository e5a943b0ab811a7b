package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sievedata/sieve/internal/api"
	"github.com/sievedata/sieve/internal/api/middleware"
	"github.com/sievedata/sieve/internal/service"
)

type SearchAPI interface {
	Search(ctx context.Context, input service.SearchInput) (*service.SearchOutput, error)
}

type SearchHandler struct {
	svc SearchAPI
}

func NewSearchHandler(svc SearchAPI) *SearchHandler {
	return &SearchHandler{svc: svc}
}

type SearchRequest struct {
	Query     string    `json:"query"`
	Embedding []float32 `json:"embedding,omitempty"` // pre-embedded query vector
	Limit     int       `json:"limit,omitempty"`
	Rerank    *bool     `json:"rerank,omitempty"` // overrides the server default
}

type SearchResultResponse struct {
	ChunkID     string            `json:"chunk_id"`
	DocumentID  string            `json:"document_id"`
	Snippet     string            `json:"snippet"`
	Text        string            `json:"text"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Score       float64           `json:"score"`
	VectorRank  int               `json:"vector_rank,omitempty"`
	LexicalRank int               `json:"lexical_rank,omitempty"`
	RerankScore *float64          `json:"rerank_score,omitempty"`
}

type SearchResponse struct {
	Results  []SearchResultResponse `json:"results"`
	Degraded bool                   `json:"degraded"`
	Reranked bool                   `json:"reranked"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		api.Error(w, http.StatusBadRequest, "query is required")
		return
	}

	output, err := h.svc.Search(r.Context(), service.SearchInput{
		TenantID:  tenantID,
		Query:     req.Query,
		Embedding: req.Embedding,
		Limit:     req.Limit,
		Rerank:    req.Rerank,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	results := make([]SearchResultResponse, len(output.Results))
	for i, res := range output.Results {
		results[i] = SearchResultResponse{
			ChunkID:     res.ChunkID,
			DocumentID:  res.DocumentID,
			Snippet:     res.Snippet,
			Text:        res.Text,
			Metadata:    res.Metadata,
			Score:       res.Score,
			VectorRank:  res.VectorRank,
			LexicalRank: res.LexicalRank,
			RerankScore: res.RerankScore,
		}
	}

	api.Success(w, http.StatusOK, SearchResponse{
		Results:  results,
		Degraded: output.Degraded,
		Reranked: output.Reranked,
	})
}
