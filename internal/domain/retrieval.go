package domain

// RetrievalCandidate is a query-time result carrying the constituent ranks
// and scores from each signal. Fused and rerank scores are recomputed on
// every search and never persisted.
type RetrievalCandidate struct {
	ChunkID      string
	DocumentID   string
	Text         string
	Metadata     map[string]string
	VectorRank   int // 1-based; 0 means absent from the vector list
	VectorScore  float64
	LexicalRank  int // 1-based; 0 means absent from the lexical list
	LexicalScore float64
	FusedScore   float64
	RerankScore  *float64 // set only when the rerank stage ran
}

// MaxSignalScore returns the higher of the candidate's raw signal scores,
// used as the first fused-score tie-breaker.
func (c *RetrievalCandidate) MaxSignalScore() float64 {
	if c.VectorScore > c.LexicalScore {
		return c.VectorScore
	}
	return c.LexicalScore
}

// ScoredRef is one entry of a ranked list returned by a search signal.
type ScoredRef struct {
	ChunkID    string
	DocumentID string
	Text       string
	Metadata   map[string]string
	Score      float64
}
