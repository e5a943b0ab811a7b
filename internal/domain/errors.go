package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches DomainErrors by code so wrapped sentinels compare correctly.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// Common domain error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeInvalidOperation = "INVALID_OPERATION"
	ErrCodeExtraction       = "EXTRACTION_ERROR"
	ErrCodeEmbedding        = "EMBEDDING_SERVICE_ERROR"
	ErrCodeVectorStore      = "VECTOR_STORE_ERROR"
	ErrCodeLexicalIndex     = "LEXICAL_INDEX_ERROR"
	ErrCodeDuplicate        = "DUPLICATE_CONTENT"
	ErrCodeCancelled        = "INGESTION_CANCELLED"
	ErrCodeRerank           = "RERANK_UNAVAILABLE"
	ErrCodeTenantMismatch   = "TENANT_MISMATCH"
)

// Validation errors
var (
	ErrInvalidSourceType   = NewDomainError(ErrCodeValidation, "invalid source type")
	ErrInvalidFileFormat   = NewDomainError(ErrCodeValidation, "invalid file format")
	ErrInvalidChunkConfig  = NewDomainError(ErrCodeValidation, "chunk overlap must be smaller than chunk size")
	ErrMissingTenant       = NewDomainError(ErrCodeValidation, "tenant id is required")
	ErrFileTooLarge        = NewDomainError(ErrCodeValidation, "payload exceeds the configured maximum file size")
	ErrEmptyQuery          = NewDomainError(ErrCodeValidation, "search query cannot be empty")
	ErrMissingRequiredData = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrDocumentNotFound = NewDomainError(ErrCodeNotFound, "document not found")
	ErrChunkNotFound    = NewDomainError(ErrCodeNotFound, "chunk not found")
)

// Pipeline errors
var (
	// ErrExtractionFailed covers unsupported or corrupt input, including a
	// failed OCR fallback. Not retried automatically.
	ErrExtractionFailed = NewDomainError(ErrCodeExtraction, "text extraction failed")

	// ErrUnsupportedFormat fails immediately without attempting OCR.
	ErrUnsupportedFormat = NewDomainError(ErrCodeExtraction, "unsupported file format")

	// ErrEmbeddingService marks a transient embedding provider failure.
	ErrEmbeddingService = NewDomainError(ErrCodeEmbedding, "embedding provider request failed")

	ErrVectorStore  = NewDomainError(ErrCodeVectorStore, "vector store operation failed")
	ErrLexicalIndex = NewDomainError(ErrCodeLexicalIndex, "lexical index operation failed")

	// ErrDuplicateContent is informational: identical content already
	// indexed under the same tenant/source scope.
	ErrDuplicateContent = NewDomainError(ErrCodeDuplicate, "content already indexed for this source")

	// ErrRerankUnavailable is never fatal for a search request.
	ErrRerankUnavailable = NewDomainError(ErrCodeRerank, "reranking service unavailable")
)

// Isolation errors
var (
	// ErrTenantMismatch refuses any operation that would cross a tenant
	// boundary rather than degrading.
	ErrTenantMismatch = NewDomainError(ErrCodeTenantMismatch, "operation crosses tenant boundary")
)

// Operation errors
var (
	ErrInvalidStatusTransition = NewDomainError(ErrCodeInvalidOperation, "invalid document status transition")
	ErrIngestionCancelled      = NewDomainError(ErrCodeCancelled, "ingestion cancelled")
	ErrDocumentTerminal        = NewDomainError(ErrCodeInvalidOperation, "document is in a terminal state, resubmit to retry")
)
