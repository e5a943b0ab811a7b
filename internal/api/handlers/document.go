package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sievedata/sieve/internal/api"
	"github.com/sievedata/sieve/internal/api/middleware"
	"github.com/sievedata/sieve/internal/domain"
	"github.com/sievedata/sieve/internal/service"
)

type IngestionAPI interface {
	Submit(ctx context.Context, input service.SubmitInput) (*domain.Document, error)
	Status(ctx context.Context, tenantID, documentID string) (*domain.Document, error)
	List(ctx context.Context, tenantID string) ([]*domain.Document, error)
	Cancel(ctx context.Context, tenantID, documentID string) error
	Delete(ctx context.Context, tenantID, documentID string) error
	Stats(ctx context.Context, tenantID string) (*service.IngestionStats, error)
	Progress(ctx context.Context, tenantID, documentID string) (*service.IngestionProgress, error)
	DownloadURL(ctx context.Context, tenantID, documentID string) (string, error)
}

type DocumentHandler struct {
	svc IngestionAPI
}

func NewDocumentHandler(svc IngestionAPI) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

type SubmitDocumentRequest struct {
	SourceType string            `json:"source_type"`
	SourceID   string            `json:"source_id"`
	Format     string            `json:"format,omitempty"` // sniffed when absent
	Content    []byte            `json:"content"`          // base64 in JSON
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type DocumentResponse struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	SourceType   string            `json:"source_type"`
	SourceID     string            `json:"source_id"`
	Format       string            `json:"format"`
	Status       string            `json:"status"`
	StatusReason string            `json:"status_reason,omitempty"`
	ChunkCount   int               `json:"chunk_count"`
	Progress     *ProgressResponse `json:"progress,omitempty"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
}

type ProgressResponse struct {
	Stage           string `json:"stage"`
	ChunksProcessed int    `json:"chunks_processed"`
	ChunksTotal     int    `json:"chunks_total"`
}

func documentToResponse(d *domain.Document) *DocumentResponse {
	return &DocumentResponse{
		ID:           d.ID,
		TenantID:     d.TenantID,
		SourceType:   string(d.SourceType),
		SourceID:     d.SourceID,
		Format:       string(d.Format),
		Status:       string(d.Status),
		StatusReason: d.StatusReason,
		ChunkCount:   d.ChunkCount,
		CreatedAt:    d.CreatedAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:    d.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func (h *DocumentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req SubmitDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.SourceType == "" {
		api.Error(w, http.StatusBadRequest, "source_type is required")
		return
	}
	if req.SourceID == "" {
		api.Error(w, http.StatusBadRequest, "source_id is required")
		return
	}
	if len(req.Content) == 0 {
		api.Error(w, http.StatusBadRequest, "content is required")
		return
	}

	input := service.SubmitInput{
		TenantID:   tenantID,
		SourceType: domain.SourceType(req.SourceType),
		SourceID:   req.SourceID,
		Format:     domain.FileFormat(req.Format),
		Payload:    req.Content,
		Metadata:   req.Metadata,
	}

	doc, err := h.svc.Submit(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, documentToResponse(doc))
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	doc, err := h.svc.Status(r.Context(), tenantID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := documentToResponse(doc)
	if progress, err := h.svc.Progress(r.Context(), tenantID, id); err == nil {
		resp.Progress = &ProgressResponse{
			Stage:           string(progress.Stage),
			ChunksProcessed: progress.ChunksProcessed,
			ChunksTotal:     progress.ChunksTotal,
		}
	}

	api.Success(w, http.StatusOK, resp)
}

type DocumentListResponse struct {
	Items []*DocumentResponse `json:"items"`
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	docs, err := h.svc.List(r.Context(), tenantID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*DocumentResponse, len(docs))
	for i, d := range docs {
		responses[i] = documentToResponse(d)
	}

	api.Success(w, http.StatusOK, DocumentListResponse{Items: responses})
}

func (h *DocumentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.Cancel(r.Context(), tenantID, id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.svc.Delete(r.Context(), tenantID, id); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	url, err := h.svc.DownloadURL(r.Context(), tenantID, id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"url": url})
}

type StatsResponse struct {
	DocumentsByStatus map[string]int `json:"documents_by_status"`
	TotalDocuments    int            `json:"total_documents"`
	TotalChunks       int            `json:"total_chunks"`
	DuplicatesSkipped int            `json:"duplicates_skipped"`
}

func (h *DocumentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	stats, err := h.svc.Stats(r.Context(), tenantID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	byStatus := make(map[string]int, len(stats.DocumentsByStatus))
	for status, n := range stats.DocumentsByStatus {
		byStatus[string(status)] = n
	}

	api.Success(w, http.StatusOK, StatsResponse{
		DocumentsByStatus: byStatus,
		TotalDocuments:    stats.TotalDocuments,
		TotalChunks:       stats.TotalChunks,
		DuplicatesSkipped: stats.DuplicatesSkipped,
	})
}
