package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sievedata/sieve/internal/domain"
	"github.com/sievedata/sieve/internal/extract"
	"github.com/sievedata/sieve/internal/jobs"
	"github.com/sievedata/sieve/internal/telemetry"
)

// cancelReason is recorded on documents whose ingestion was cancelled.
const cancelReason = "ingestion cancelled"

// DocumentStore defines the document persistence interface the services consume
type DocumentStore interface {
	Create(ctx context.Context, d *domain.Document) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.Document, error)
	GetBySource(ctx context.Context, tenantID string, sourceType domain.SourceType, sourceID string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, tenantID, id string, status domain.DocumentStatus, reason string) error
	TransitionStatus(ctx context.Context, tenantID, id string, from, to domain.DocumentStatus, reason string) error
	ResetForReingest(ctx context.Context, tenantID, id string, format domain.FileFormat) error
	SetContentHash(ctx context.Context, tenantID, id, hash string) error
	SetChunkCount(ctx context.Context, tenantID, id string, count int) error
	Delete(ctx context.Context, tenantID, id string) error
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.Document, error)
	CountByStatus(ctx context.Context, tenantID string) (map[domain.DocumentStatus]int, error)
}

// BlobStore holds raw document payloads.
type BlobStore interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
	GenerateDownloadURL(ctx context.Context, key string) (string, error)
}

// TextExtractor turns a raw payload into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, payload []byte, format domain.FileFormat) (*extract.Result, error)
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// IngestionConfig tunes the ingestion pipeline.
type IngestionConfig struct {
	ChunkConfig ChunkConfig
	MaxFileSize int64
	Workers     int
	QueueSize   int
}

// SubmitInput represents one payload submitted for ingestion.
type SubmitInput struct {
	TenantID   string
	SourceType domain.SourceType
	SourceID   string
	Format     domain.FileFormat // sniffed from the payload when empty
	Payload    []byte
	Metadata   map[string]string
}

// IngestionStats summarizes a tenant's corpus. DuplicatesSkipped counts
// ingestions this process resolved by content hash instead of re-embedding.
type IngestionStats struct {
	DocumentsByStatus map[domain.DocumentStatus]int
	TotalDocuments    int
	TotalChunks       int
	DuplicatesSkipped int
}

// priorIngest carries what a resubmitted source's previous run left behind.
type priorIngest struct {
	hash    string
	indexed bool
}

// IngestionProgress is a point-in-time view of one document's pipeline run.
type IngestionProgress struct {
	Stage           domain.DocumentStatus
	ChunksProcessed int
	ChunksTotal     int
}

// progressEntry tracks chunk counters for an in-flight run.
type progressEntry struct {
	processed int
	total     int
}

// IngestionService drives documents through the pipeline:
// pending -> extracting -> chunking -> indexing -> indexed, with error
// reachable from every non-terminal stage. Work runs on a bounded pool;
// Submit only validates, stores the payload and enqueues.
type IngestionService struct {
	docs      DocumentStore
	chunks    ChunkStore
	blobs     BlobStore
	extractor TextExtractor
	dedup     *DedupGuard
	indexer   *Indexer
	pool      *jobs.Pool
	cfg       IngestionConfig
	uuidGen   UUIDGenerator

	mu       sync.Mutex
	running  map[string]context.CancelFunc
	progress map[string]*progressEntry
	dupSkips map[string]int // per-tenant duplicate-content skips
}

// NewIngestionService creates a new IngestionService instance
func NewIngestionService(
	docs DocumentStore,
	chunks ChunkStore,
	blobs BlobStore,
	extractor TextExtractor,
	dedup *DedupGuard,
	indexer *Indexer,
	cfg IngestionConfig,
) *IngestionService {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.ChunkConfig == (ChunkConfig{}) {
		cfg.ChunkConfig = DefaultChunkConfig()
	}
	return &IngestionService{
		docs:      docs,
		chunks:    chunks,
		blobs:     blobs,
		extractor: extractor,
		dedup:     dedup,
		indexer:   indexer,
		pool:      jobs.NewPool(cfg.Workers, cfg.QueueSize),
		cfg:       cfg,
		uuidGen:   &DefaultUUIDGenerator{},
		running:   make(map[string]context.CancelFunc),
		progress:  make(map[string]*progressEntry),
		dupSkips:  make(map[string]int),
	}
}

// Start launches the ingestion workers.
func (s *IngestionService) Start(ctx context.Context) {
	s.pool.Start(ctx)
}

// Stop drains the pool, waiting for in-flight documents.
func (s *IngestionService) Stop() {
	s.pool.Stop()
}

// payloadKey builds the blob storage key for a document's raw payload.
func payloadKey(tenantID, documentID string) string {
	return fmt.Sprintf("tenants/%s/documents/%s", tenantID, documentID)
}

// Submit validates and accepts a payload for ingestion. The returned
// document is in pending state; progress is observed via Status.
// Resubmitting a source whose document reached a terminal state reuses the
// document id: identical content resolves to a no-op during the run, while
// changed content replaces the old chunks and index entries.
func (s *IngestionService) Submit(ctx context.Context, input SubmitInput) (*domain.Document, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Submit", telemetry.SpanAttributes{
		TenantID:  input.TenantID,
		Operation: "submit",
	})
	defer span.End()

	if input.TenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	if input.SourceID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "source id is required")
	}
	if !domain.IsValidSourceType(input.SourceType) {
		return nil, domain.ErrInvalidSourceType
	}
	if len(input.Payload) == 0 {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "payload cannot be empty")
	}
	if s.cfg.MaxFileSize > 0 && int64(len(input.Payload)) > s.cfg.MaxFileSize {
		return nil, domain.ErrFileTooLarge
	}

	format := input.Format
	if format == "" {
		format = extract.SniffFormat(input.Payload)
	}
	if !domain.IsValidFileFormat(format) {
		return nil, domain.ErrInvalidFileFormat
	}

	now := time.Now().UTC()
	var prior *priorIngest
	doc, err := s.docs.GetBySource(ctx, input.TenantID, input.SourceType, input.SourceID)
	switch {
	case err == nil:
		// Resubmission of a known source: keep the document id and let the
		// pipeline decide whether the content actually changed.
		if !doc.Status.IsTerminal() {
			return nil, domain.NewDomainError(domain.ErrCodeInvalidOperation,
				fmt.Sprintf("document %s is still being ingested", doc.ID))
		}
		prior = &priorIngest{hash: doc.ContentHash, indexed: doc.Status == domain.DocumentStatusIndexed}
		if err := s.blobs.PutObject(ctx, doc.ContentRef, bytes.NewReader(input.Payload), ""); err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to store payload", err)
		}
		if err := s.docs.ResetForReingest(ctx, input.TenantID, doc.ID, format); err != nil {
			return nil, err
		}
		doc.Status = domain.DocumentStatusPending
		doc.StatusReason = ""
		doc.Format = format
	case errors.Is(err, domain.ErrDocumentNotFound):
		docID := s.uuidGen.NewString()
		key := payloadKey(input.TenantID, docID)
		if err := s.blobs.PutObject(ctx, key, bytes.NewReader(input.Payload), ""); err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to store payload", err)
		}
		doc = domain.NewDocument(docID, input.TenantID, input.SourceType, input.SourceID, format, key, now)
		if err := s.docs.Create(ctx, doc); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	tenantID, docID, metadata := input.TenantID, doc.ID, input.Metadata
	if err := s.pool.Submit(func(taskCtx context.Context) {
		s.process(taskCtx, tenantID, docID, metadata, prior)
	}); err != nil {
		reason := "ingestion queue full"
		if updateErr := s.docs.UpdateStatus(ctx, tenantID, docID, domain.DocumentStatusError, reason); updateErr != nil {
			log.Printf("Failed to record queue rejection for document %s: %v", docID, updateErr)
		}
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeInvalidOperation, reason, err)
	}

	return doc, nil
}

// Status returns the document with its current pipeline state.
func (s *IngestionService) Status(ctx context.Context, tenantID, documentID string) (*domain.Document, error) {
	if tenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	return s.docs.GetByID(ctx, tenantID, documentID)
}

// Progress reports the stage and chunk counters of a document. While a run
// is in flight the counters come from the live pipeline; afterwards they
// are derived from the persisted document.
func (s *IngestionService) Progress(ctx context.Context, tenantID, documentID string) (*IngestionProgress, error) {
	doc, err := s.Status(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}

	p := &IngestionProgress{Stage: doc.Status}

	s.mu.Lock()
	entry, live := s.progress[runKey(tenantID, documentID)]
	if live {
		p.ChunksProcessed = entry.processed
		p.ChunksTotal = entry.total
	}
	s.mu.Unlock()

	if !live && doc.Status == domain.DocumentStatusIndexed {
		p.ChunksProcessed = doc.ChunkCount
		p.ChunksTotal = doc.ChunkCount
	}
	return p, nil
}

// DownloadURL returns a short-lived link to a document's raw payload.
func (s *IngestionService) DownloadURL(ctx context.Context, tenantID, documentID string) (string, error) {
	doc, err := s.Status(ctx, tenantID, documentID)
	if err != nil {
		return "", err
	}
	if doc.ContentRef == "" {
		return "", domain.NewDomainError(domain.ErrCodeNotFound, "document has no stored payload")
	}
	return s.blobs.GenerateDownloadURL(ctx, doc.ContentRef)
}

// List returns all of a tenant's documents, newest first.
func (s *IngestionService) List(ctx context.Context, tenantID string) ([]*domain.Document, error) {
	if tenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	return s.docs.ListByTenant(ctx, tenantID)
}

// Cancel aborts a document's ingestion. A running pipeline is interrupted
// at its next stage boundary; a queued document is marked cancelled before
// it ever starts. Terminal documents cannot be cancelled.
func (s *IngestionService) Cancel(ctx context.Context, tenantID, documentID string) error {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Cancel", telemetry.SpanAttributes{
		TenantID:   tenantID,
		DocumentID: documentID,
		Operation:  "cancel",
	})
	defer span.End()

	doc, err := s.docs.GetByID(ctx, tenantID, documentID)
	if err != nil {
		return err
	}
	if doc.Status.IsTerminal() {
		return domain.ErrDocumentTerminal
	}

	s.mu.Lock()
	cancel, active := s.running[runKey(tenantID, documentID)]
	s.mu.Unlock()

	if active {
		cancel()
		return nil
	}

	// Still queued: the status flip makes process() skip it.
	return s.docs.UpdateStatus(ctx, tenantID, documentID, domain.DocumentStatusError, cancelReason)
}

// Delete removes a document, its chunks and every index entry.
func (s *IngestionService) Delete(ctx context.Context, tenantID, documentID string) error {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Delete", telemetry.SpanAttributes{
		TenantID:   tenantID,
		DocumentID: documentID,
		Operation:  "delete",
	})
	defer span.End()

	doc, err := s.docs.GetByID(ctx, tenantID, documentID)
	if err != nil {
		return err
	}

	if err := s.indexer.RemoveDocument(ctx, tenantID, documentID); err != nil {
		return err
	}
	// Chunk rows and their embeddings go with the document row.
	if err := s.docs.Delete(ctx, tenantID, documentID); err != nil {
		return err
	}
	if doc.ContentRef != "" {
		if err := s.blobs.DeleteObject(ctx, doc.ContentRef); err != nil {
			log.Printf("Failed to delete payload %s: %v", doc.ContentRef, err)
		}
	}
	return nil
}

// Stats reports per-status document counts and the chunk total for a tenant.
func (s *IngestionService) Stats(ctx context.Context, tenantID string) (*IngestionStats, error) {
	if tenantID == "" {
		return nil, domain.ErrMissingTenant
	}

	byStatus, err := s.docs.CountByStatus(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range byStatus {
		total += n
	}
	chunkTotal, err := s.chunks.CountByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	skips := s.dupSkips[tenantID]
	s.mu.Unlock()

	return &IngestionStats{
		DocumentsByStatus: byStatus,
		TotalDocuments:    total,
		TotalChunks:       chunkTotal,
		DuplicatesSkipped: skips,
	}, nil
}

func runKey(tenantID, documentID string) string {
	return tenantID + "/" + documentID
}

func (s *IngestionService) setProgressTotal(tenantID, documentID string, total int) {
	s.mu.Lock()
	if entry, ok := s.progress[runKey(tenantID, documentID)]; ok {
		entry.total = total
	}
	s.mu.Unlock()
}

func (s *IngestionService) incrProgress(tenantID, documentID string) {
	s.mu.Lock()
	if entry, ok := s.progress[runKey(tenantID, documentID)]; ok {
		entry.processed++
	}
	s.mu.Unlock()
}

func (s *IngestionService) recordDuplicateSkip(tenantID string) {
	s.mu.Lock()
	s.dupSkips[tenantID]++
	s.mu.Unlock()
}

// process runs the pipeline for one document on a pool worker.
func (s *IngestionService) process(ctx context.Context, tenantID, documentID string, metadata map[string]string, prior *priorIngest) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.process", telemetry.SpanAttributes{
		TenantID:   tenantID,
		DocumentID: documentID,
		Operation:  "ingest",
	})
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	key := runKey(tenantID, documentID)
	s.mu.Lock()
	s.running[key] = cancel
	s.progress[key] = &progressEntry{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, key)
		delete(s.progress, key)
		s.mu.Unlock()
	}()

	doc, err := s.docs.GetByID(ctx, tenantID, documentID)
	if err != nil {
		log.Printf("Ingestion skipped, document %s not found: %v", documentID, err)
		return
	}
	if doc.Status != domain.DocumentStatusPending {
		// Cancelled or already handled while queued.
		return
	}

	if err := s.runPipeline(ctx, doc, metadata, prior); err != nil {
		span.SetError(err)
		s.fail(tenantID, documentID, err)
	}
}

func (s *IngestionService) runPipeline(ctx context.Context, doc *domain.Document, metadata map[string]string, prior *priorIngest) error {
	tenantID, documentID := doc.TenantID, doc.ID

	// Extracting
	if err := s.advance(ctx, doc, domain.DocumentStatusExtracting); err != nil {
		return err
	}
	payload, err := s.blobs.GetObject(ctx, doc.ContentRef)
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to load payload", err)
	}
	result, err := s.extractor.Extract(ctx, payload, doc.Format)
	if err != nil {
		return err
	}

	hash := HashText(result.Text)
	if prior != nil && prior.indexed && hash == prior.hash {
		// Identical content resubmitted under the same source: the existing
		// chunks and index entries already cover it.
		s.recordDuplicateSkip(tenantID)
		log.Printf("Document %s resubmitted with unchanged content, keeping existing index", documentID)
		if err := s.docs.TransitionStatus(ctx, tenantID, documentID, doc.Status, domain.DocumentStatusIndexed, ""); err != nil {
			if errors.Is(err, domain.ErrInvalidStatusTransition) {
				return domain.ErrIngestionCancelled
			}
			return err
		}
		doc.Status = domain.DocumentStatusIndexed
		return nil
	}
	if prior != nil {
		// Content changed, or the previous run never finished: the old
		// chunks and postings are stale either way.
		if err := s.indexer.RemoveDocument(ctx, tenantID, documentID); err != nil {
			return err
		}
		if err := s.chunks.DeleteByDocument(ctx, tenantID, documentID); err != nil {
			return err
		}
	}
	if err := s.docs.SetContentHash(ctx, tenantID, documentID, hash); err != nil {
		return err
	}
	if dup, err := s.dedup.Check(ctx, tenantID, hash, documentID); err != nil {
		return err
	} else if dup != nil {
		// The same content under a different source is a separate document;
		// the overlap is recorded for stats, never held against it.
		s.recordDuplicateSkip(tenantID)
		log.Printf("Document %s shares content with already-indexed document %s", documentID, dup.ID)
	}

	// Chunking
	if err := s.advance(ctx, doc, domain.DocumentStatusChunking); err != nil {
		return err
	}
	texts, err := ChunkText(result.Text, s.cfg.ChunkConfig)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		return domain.NewDomainError(domain.ErrCodeExtraction, "document produced no indexable text")
	}

	total := len(texts)
	s.setProgressTotal(tenantID, documentID, total)
	chunks := make([]*domain.Chunk, 0, total)
	now := time.Now().UTC()
	for i, text := range texts {
		c := &domain.Chunk{
			ID:          s.uuidGen.NewString(),
			DocumentID:  documentID,
			TenantID:    tenantID,
			SourceType:  doc.SourceType,
			SourceID:    doc.SourceID,
			Index:       i,
			Total:       total,
			Text:        text,
			ContentHash: HashText(text),
			Metadata:    metadata,
			CreatedAt:   now,
		}
		if err := s.chunks.Create(ctx, c); err != nil {
			return err
		}
		chunks = append(chunks, c)
	}

	// Indexing
	if err := s.advance(ctx, doc, domain.DocumentStatusIndexing); err != nil {
		return err
	}
	if err := s.indexer.IndexChunks(ctx, chunks, func(*domain.Chunk) {
		s.incrProgress(tenantID, documentID)
	}); err != nil {
		return err
	}
	if err := s.docs.SetChunkCount(ctx, tenantID, documentID, total); err != nil {
		return err
	}

	if err := s.advance(ctx, doc, domain.DocumentStatusIndexed); err != nil {
		return err
	}

	log.Printf("Document %s indexed: %d chunks", documentID, total)
	return nil
}

// advance moves the document to the next pipeline stage, checking for
// cancellation at the boundary. The store write is conditional on the
// stage the pipeline last observed: if the row moved underneath (a cancel
// landing between the worker's read and this write), the run stops
// instead of overwriting the cancelled state.
func (s *IngestionService) advance(ctx context.Context, doc *domain.Document, to domain.DocumentStatus) error {
	if err := ctx.Err(); err != nil {
		return domain.ErrIngestionCancelled
	}
	if !domain.CanTransition(doc.Status, to) {
		return domain.NewDomainErrorWithCause(domain.ErrCodeInvalidOperation,
			fmt.Sprintf("cannot transition document from %s to %s", doc.Status, to),
			domain.ErrInvalidStatusTransition)
	}
	if err := s.docs.TransitionStatus(ctx, doc.TenantID, doc.ID, doc.Status, to, ""); err != nil {
		if errors.Is(err, domain.ErrInvalidStatusTransition) {
			return domain.ErrIngestionCancelled
		}
		return err
	}
	doc.Status = to
	return nil
}

// fail records a pipeline failure on the document. A background context is
// used so a cancelled run can still persist its final state.
func (s *IngestionService) fail(tenantID, documentID string, cause error) {
	reason := cause.Error()
	switch {
	case errors.Is(cause, domain.ErrIngestionCancelled), errors.Is(cause, context.Canceled):
		reason = cancelReason
	default:
		var derr *domain.DomainError
		if errors.As(cause, &derr) {
			reason = derr.Message
		}
	}

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()
	if err := s.docs.UpdateStatus(ctx, tenantID, documentID, domain.DocumentStatusError, reason); err != nil {
		log.Printf("Failed to record error state for document %s: %v", documentID, err)
	}
	log.Printf("Ingestion of document %s failed: %v", documentID, cause)
}
