package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sievedata/sieve/internal/api/handlers"
	"github.com/sievedata/sieve/internal/domain"
	"github.com/sievedata/sieve/internal/service"
)

type MockIngestionService struct {
	mock.Mock
}

func (m *MockIngestionService) Submit(ctx context.Context, input service.SubmitInput) (*domain.Document, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockIngestionService) Status(ctx context.Context, tenantID, documentID string) (*domain.Document, error) {
	args := m.Called(ctx, tenantID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockIngestionService) List(ctx context.Context, tenantID string) ([]*domain.Document, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

func (m *MockIngestionService) Cancel(ctx context.Context, tenantID, documentID string) error {
	args := m.Called(ctx, tenantID, documentID)
	return args.Error(0)
}

func (m *MockIngestionService) Delete(ctx context.Context, tenantID, documentID string) error {
	args := m.Called(ctx, tenantID, documentID)
	return args.Error(0)
}

func (m *MockIngestionService) Stats(ctx context.Context, tenantID string) (*service.IngestionStats, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IngestionStats), args.Error(1)
}

func (m *MockIngestionService) Progress(ctx context.Context, tenantID, documentID string) (*service.IngestionProgress, error) {
	args := m.Called(ctx, tenantID, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IngestionProgress), args.Error(1)
}

func (m *MockIngestionService) DownloadURL(ctx context.Context, tenantID, documentID string) (string, error) {
	args := m.Called(ctx, tenantID, documentID)
	return args.String(0), args.Error(1)
}

type MockRetrievalService struct {
	mock.Mock
}

func (m *MockRetrievalService) Search(ctx context.Context, input service.SearchInput) (*service.SearchOutput, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SearchOutput), args.Error(1)
}

func newTestRouter(ingestion *MockIngestionService, retrieval *MockRetrievalService) http.Handler {
	return NewRouter(RouterConfig{
		DocumentHandler: handlers.NewDocumentHandler(ingestion),
		SearchHandler:   handlers.NewSearchHandler(retrieval),
	})
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(new(MockIngestionService), new(MockRetrievalService))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_TenantRequired(t *testing.T) {
	router := newTestRouter(new(MockIngestionService), new(MockRetrievalService))

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/documents"},
		{http.MethodGet, "/documents"},
		{http.MethodGet, "/documents/doc-1"},
		{http.MethodGet, "/documents/doc-1/download"},
		{http.MethodGet, "/documents/stats"},
		{http.MethodPost, "/documents/doc-1/cancel"},
		{http.MethodDelete, "/documents/doc-1"},
		{http.MethodPost, "/search"},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			req := httptest.NewRequest(p.method, p.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRouter_GetDocument(t *testing.T) {
	ingestion := new(MockIngestionService)
	router := newTestRouter(ingestion, new(MockRetrievalService))

	now := time.Now().UTC()
	ingestion.On("Status", mock.Anything, "tenant-1", "doc-1").Return(&domain.Document{
		ID:         "doc-1",
		TenantID:   "tenant-1",
		SourceType: domain.SourceTypeFile,
		SourceID:   "upload-1",
		Format:     domain.FormatText,
		Status:     domain.DocumentStatusIndexing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil)
	ingestion.On("Progress", mock.Anything, "tenant-1", "doc-1").Return(&service.IngestionProgress{
		Stage:           domain.DocumentStatusIndexing,
		ChunksProcessed: 2,
		ChunksTotal:     5,
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/documents/doc-1", nil)
	req.Header.Set("X-Tenant-ID", "tenant-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data handlers.DocumentResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "indexing", resp.Data.Status)
	require.NotNil(t, resp.Data.Progress)
	assert.Equal(t, 2, resp.Data.Progress.ChunksProcessed)
	assert.Equal(t, 5, resp.Data.Progress.ChunksTotal)
	ingestion.AssertExpectations(t)
}

func TestRouter_Search(t *testing.T) {
	retrieval := new(MockRetrievalService)
	router := newTestRouter(new(MockIngestionService), retrieval)

	retrieval.On("Search", mock.Anything, service.SearchInput{
		TenantID: "tenant-1",
		Query:    "refund",
	}).Return(&service.SearchOutput{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader([]byte(`{"query":"refund"}`)))
	req.Header.Set("X-Tenant-ID", "tenant-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	retrieval.AssertExpectations(t)
}

func TestRouter_BodyLimit(t *testing.T) {
	router := NewRouter(RouterConfig{
		DocumentHandler: handlers.NewDocumentHandler(new(MockIngestionService)),
		SearchHandler:   handlers.NewSearchHandler(new(MockRetrievalService)),
		MaxBodyBytes:    16,
	})

	body := bytes.Repeat([]byte("x"), 64)
	req := httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader(body))
	req.Header.Set("X-Tenant-ID", "tenant-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
