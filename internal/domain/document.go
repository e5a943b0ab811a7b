package domain

import (
	"fmt"
	"time"
)

// SourceType identifies where a document originated.
type SourceType string

const (
	SourceTypeEmail        SourceType = "email"
	SourceTypeFile         SourceType = "file"
	SourceTypeSocial       SourceType = "social"
	SourceTypeConversation SourceType = "conversation"
	SourceTypeManual       SourceType = "manual"
)

// DocumentStatus represents the ingestion stage of a document.
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusExtracting DocumentStatus = "extracting"
	DocumentStatusChunking   DocumentStatus = "chunking"
	DocumentStatusIndexing   DocumentStatus = "indexing"
	DocumentStatusIndexed    DocumentStatus = "indexed"
	DocumentStatusError      DocumentStatus = "error"
)

// FileFormat is the declared or sniffed format of an uploaded payload.
type FileFormat string

const (
	FormatText        FileFormat = "text"
	FormatMarkup      FileFormat = "markup"
	FormatWordDoc     FileFormat = "worddoc"
	FormatSpreadsheet FileFormat = "spreadsheet"
	FormatPDF         FileFormat = "pdf"
	FormatImage       FileFormat = "image"
)

// Document represents one ingested unit of content, scoped to a tenant.
type Document struct {
	ID           string
	TenantID     string
	SourceType   SourceType
	SourceID     string
	Format       FileFormat
	ContentRef   string // object key of the raw payload in blob storage
	ContentHash  string // digest of the whole normalized document text
	Status       DocumentStatus
	StatusReason string
	ChunkCount   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewDocument creates a pending Document for a submitted payload.
func NewDocument(id, tenantID string, sourceType SourceType, sourceID string, format FileFormat, contentRef string, now time.Time) *Document {
	return &Document{
		ID:         id,
		TenantID:   tenantID,
		SourceType: sourceType,
		SourceID:   sourceID,
		Format:     format,
		ContentRef: contentRef,
		Status:     DocumentStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ValidateDocument validates a Document instance.
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}
	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}
	if d.TenantID == "" {
		return fmt.Errorf("document TenantID is required")
	}
	if d.SourceID == "" {
		return fmt.Errorf("document SourceID is required")
	}
	if !IsValidSourceType(d.SourceType) {
		return fmt.Errorf("document SourceType is invalid: %s", d.SourceType)
	}
	if !isValidDocumentStatus(d.Status) {
		return fmt.Errorf("document Status is invalid: %s", d.Status)
	}
	return nil
}

// CanTransition reports whether a document may move from one status to
// another. Transitions are one-way; error is reachable from any
// non-terminal stage and is only left by resubmission.
func CanTransition(from, to DocumentStatus) bool {
	if from == DocumentStatusIndexed || from == DocumentStatusError {
		return false
	}
	if to == DocumentStatusError {
		return true
	}
	switch from {
	case DocumentStatusPending:
		return to == DocumentStatusExtracting
	case DocumentStatusExtracting:
		return to == DocumentStatusChunking
	case DocumentStatusChunking:
		return to == DocumentStatusIndexing
	case DocumentStatusIndexing:
		return to == DocumentStatusIndexed
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentStatusIndexed || s == DocumentStatusError
}

// IsValidSourceType checks if a SourceType is one of the known sources.
func IsValidSourceType(t SourceType) bool {
	switch t {
	case SourceTypeEmail, SourceTypeFile, SourceTypeSocial,
		SourceTypeConversation, SourceTypeManual:
		return true
	}
	return false
}

// IsValidFileFormat checks if a FileFormat is supported by extraction.
func IsValidFileFormat(f FileFormat) bool {
	switch f {
	case FormatText, FormatMarkup, FormatWordDoc,
		FormatSpreadsheet, FormatPDF, FormatImage:
		return true
	}
	return false
}

func isValidDocumentStatus(s DocumentStatus) bool {
	switch s {
	case DocumentStatusPending, DocumentStatusExtracting, DocumentStatusChunking,
		DocumentStatusIndexing, DocumentStatusIndexed, DocumentStatusError:
		return true
	}
	return false
}
