package domain

import (
	"fmt"
	"time"
)

// Chunk is the unit of indexing and retrieval: one bounded text segment of
// a parent document, carrying its position and index references.
type Chunk struct {
	ID          string
	DocumentID  string
	TenantID    string
	SourceType  SourceType
	SourceID    string
	Index       int // 0-based position within the parent
	Total       int // total chunks for the parent, fixed before dispatch
	Text        string
	ContentHash string // digest of normalized Text, dedup key
	Metadata    map[string]string
	VectorID    string // opaque point id in the vector store
	LexicalRef  string // posting key in the lexical index
	CreatedAt   time.Time
}

// ValidateChunk validates a Chunk instance.
func ValidateChunk(c *Chunk) error {
	if c == nil {
		return fmt.Errorf("chunk cannot be nil")
	}
	if c.ID == "" {
		return fmt.Errorf("chunk ID is required")
	}
	if c.DocumentID == "" {
		return fmt.Errorf("chunk DocumentID is required")
	}
	if c.TenantID == "" {
		return fmt.Errorf("chunk TenantID is required")
	}
	if c.Text == "" {
		return fmt.Errorf("chunk Text is required")
	}
	if c.ContentHash == "" {
		return fmt.Errorf("chunk ContentHash is required")
	}
	if c.Total <= 0 {
		return fmt.Errorf("chunk Total must be greater than 0")
	}
	if c.Index < 0 || c.Index >= c.Total {
		return fmt.Errorf("chunk Index %d out of range [0,%d)", c.Index, c.Total)
	}
	return nil
}
