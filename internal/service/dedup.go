package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/sievedata/sieve/internal/domain"
)

// NormalizeText collapses all whitespace runs to single spaces and trims
// the ends, so formatting-only differences hash identically.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// HashText returns the hex SHA-256 digest of the normalized text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// DuplicateLookup finds an already-indexed document by content hash.
type DuplicateLookup interface {
	FindByContentHash(ctx context.Context, tenantID, hash string) (*domain.Document, error)
}

// DedupGuard detects content that is already indexed within a tenant.
// Hashes never compare across tenant boundaries; each check is scoped to
// one tenant's documents.
type DedupGuard struct {
	docs DuplicateLookup
}

// NewDedupGuard creates a new DedupGuard instance
func NewDedupGuard(docs DuplicateLookup) *DedupGuard {
	return &DedupGuard{docs: docs}
}

// Check reports the already-indexed document in the tenant carrying the
// same content hash, or nil when the content is new. A hit is
// informational: the caller records a duplicate-content skip in its stats
// rather than failing the document. excludeID skips the document being
// ingested so a resubmission never matches itself.
func (g *DedupGuard) Check(ctx context.Context, tenantID, hash, excludeID string) (*domain.Document, error) {
	if tenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	if hash == "" {
		return nil, nil
	}

	existing, err := g.docs.FindByContentHash(ctx, tenantID, hash)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if existing.ID == excludeID {
		return nil, nil
	}
	return existing, nil
}
