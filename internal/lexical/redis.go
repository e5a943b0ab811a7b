// Package lexical provides a Redis-backed inverted index with BM25 scoring.
package lexical

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/redis/go-redis/v9"

	"github.com/sievedata/sieve/internal/domain"
)

const (
	// DefaultK1 and DefaultB are the standard BM25 parameters.
	DefaultK1 = 1.5
	DefaultB  = 0.75

	termPrefix  = "lex:%s:term:%s"  // hash: chunk id -> term frequency
	lenKey      = "lex:%s:len"      // hash: chunk id -> token count
	statsKey    = "lex:%s:stats"    // hash: docs, total_len
	termsPrefix = "lex:%s:terms:%s" // set: terms of one chunk, for removal
)

// Params tunes BM25 scoring.
type Params struct {
	K1 float64
	B  float64
}

// DefaultParams returns the standard BM25 parameters.
func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB}
}

// Index maintains per-tenant term postings in Redis and scores queries
// with BM25. Every key is namespaced by tenant id; nothing is shared
// across tenants.
type Index struct {
	client *redis.Client
	params Params
}

// NewIndex creates a Redis-backed lexical index.
func NewIndex(client *redis.Client, params Params) *Index {
	if params.K1 <= 0 {
		params.K1 = DefaultK1
	}
	if params.B <= 0 {
		params.B = DefaultB
	}
	return &Index{client: client, params: params}
}

// IndexChunk adds a chunk's text to the tenant's postings. Re-indexing an
// existing chunk id replaces its previous postings.
func (ix *Index) IndexChunk(ctx context.Context, tenantID, chunkID, text string) error {
	if tenantID == "" {
		return domain.ErrMissingTenant
	}

	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	// Replace any stale postings from a previous version of this chunk.
	existing, err := ix.client.HExists(ctx, fmt.Sprintf(lenKey, tenantID), chunkID).Result()
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeLexicalIndex, "postings lookup failed", err)
	}
	if existing {
		if err := ix.RemoveChunk(ctx, tenantID, chunkID); err != nil {
			return err
		}
	}

	freqs := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freqs[tok]++
	}

	pipe := ix.client.TxPipeline()
	for term, tf := range freqs {
		pipe.HSet(ctx, fmt.Sprintf(termPrefix, tenantID, term), chunkID, tf)
		pipe.SAdd(ctx, fmt.Sprintf(termsPrefix, tenantID, chunkID), term)
	}
	pipe.HSet(ctx, fmt.Sprintf(lenKey, tenantID), chunkID, len(tokens))
	pipe.HIncrBy(ctx, fmt.Sprintf(statsKey, tenantID), "docs", 1)
	pipe.HIncrBy(ctx, fmt.Sprintf(statsKey, tenantID), "total_len", int64(len(tokens)))

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeLexicalIndex, "failed to write postings", err)
	}
	return nil
}

// RemoveChunk deletes a chunk's postings from the tenant's index.
func (ix *Index) RemoveChunk(ctx context.Context, tenantID, chunkID string) error {
	if tenantID == "" {
		return domain.ErrMissingTenant
	}

	termsSet := fmt.Sprintf(termsPrefix, tenantID, chunkID)
	terms, err := ix.client.SMembers(ctx, termsSet).Result()
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeLexicalIndex, "failed to read chunk terms", err)
	}

	length, err := ix.client.HGet(ctx, fmt.Sprintf(lenKey, tenantID), chunkID).Int64()
	if err == redis.Nil {
		return nil // nothing indexed for this chunk
	}
	if err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeLexicalIndex, "failed to read chunk length", err)
	}

	pipe := ix.client.TxPipeline()
	for _, term := range terms {
		pipe.HDel(ctx, fmt.Sprintf(termPrefix, tenantID, term), chunkID)
	}
	pipe.Del(ctx, termsSet)
	pipe.HDel(ctx, fmt.Sprintf(lenKey, tenantID), chunkID)
	pipe.HIncrBy(ctx, fmt.Sprintf(statsKey, tenantID), "docs", -1)
	pipe.HIncrBy(ctx, fmt.Sprintf(statsKey, tenantID), "total_len", -length)

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.NewDomainErrorWithCause(domain.ErrCodeLexicalIndex, "failed to delete postings", err)
	}
	return nil
}

// DeleteNamespace removes every key belonging to a tenant.
func (ix *Index) DeleteNamespace(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return domain.ErrMissingTenant
	}

	pattern := fmt.Sprintf("lex:%s:*", tenantID)
	var cursor uint64
	for {
		keys, next, err := ix.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return domain.NewDomainErrorWithCause(domain.ErrCodeLexicalIndex, "namespace scan failed", err)
		}
		if len(keys) > 0 {
			if err := ix.client.Del(ctx, keys...).Err(); err != nil {
				return domain.NewDomainErrorWithCause(domain.ErrCodeLexicalIndex, "namespace delete failed", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Search scores the tenant's chunks against the query with BM25 and
// returns the top k, ordered by score descending with chunk id as the
// deterministic tie-break.
func (ix *Index) Search(ctx context.Context, tenantID, query string, topK int) ([]domain.ScoredRef, error) {
	if tenantID == "" {
		return nil, domain.ErrMissingTenant
	}
	if topK <= 0 {
		topK = 10
	}

	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	stats, err := ix.client.HGetAll(ctx, fmt.Sprintf(statsKey, tenantID)).Result()
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeLexicalIndex, "failed to read index stats", err)
	}
	totalDocs, _ := strconv.ParseFloat(stats["docs"], 64)
	totalLen, _ := strconv.ParseFloat(stats["total_len"], 64)
	if totalDocs <= 0 {
		return nil, nil
	}
	avgLen := totalLen / totalDocs

	lengths := make(map[string]float64)
	scores := make(map[string]float64)

	for _, term := range terms {
		postings, err := ix.client.HGetAll(ctx, fmt.Sprintf(termPrefix, tenantID, term)).Result()
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeLexicalIndex, "failed to read postings", err)
		}
		if len(postings) == 0 {
			continue
		}

		df := float64(len(postings))
		idf := math.Log(1 + (totalDocs-df+0.5)/(df+0.5))

		for chunkID, rawTF := range postings {
			tf, _ := strconv.ParseFloat(rawTF, 64)
			dl, ok := lengths[chunkID]
			if !ok {
				raw, err := ix.client.HGet(ctx, fmt.Sprintf(lenKey, tenantID), chunkID).Result()
				if err != nil && err != redis.Nil {
					return nil, domain.NewDomainErrorWithCause(domain.ErrCodeLexicalIndex, "failed to read chunk length", err)
				}
				dl, _ = strconv.ParseFloat(raw, 64)
				if dl <= 0 {
					dl = avgLen
				}
				lengths[chunkID] = dl
			}

			norm := ix.params.K1 * (1 - ix.params.B + ix.params.B*dl/avgLen)
			scores[chunkID] += idf * (tf * (ix.params.K1 + 1)) / (tf + norm)
		}
	}

	refs := make([]domain.ScoredRef, 0, len(scores))
	for chunkID, score := range scores {
		refs = append(refs, domain.ScoredRef{ChunkID: chunkID, Score: score})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Score != refs[j].Score {
			return refs[i].Score > refs[j].Score
		}
		return refs[i].ChunkID < refs[j].ChunkID
	})

	if len(refs) > topK {
		refs = refs[:topK]
	}
	return refs, nil
}

// Tokenize lowercases text and splits it on non-alphanumeric runes.
// Single-rune tokens are dropped.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
