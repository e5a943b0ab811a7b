package service

import (
	"strings"
	"unicode"

	"github.com/sievedata/sieve/internal/domain"
)

// ChunkStrategy selects how extracted text is segmented.
type ChunkStrategy string

const (
	ChunkStrategyFixed     ChunkStrategy = "fixed"
	ChunkStrategyParagraph ChunkStrategy = "paragraph"
	ChunkStrategySentence  ChunkStrategy = "sentence"
)

// ChunkConfig controls chunking of extracted document text.
type ChunkConfig struct {
	Strategy ChunkStrategy
	Size     int // maximum chunk length in runes
	Overlap  int // runes carried over from the previous chunk
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Strategy: ChunkStrategyFixed,
		Size:     1200,
		Overlap:  200,
	}
}

// Validate rejects configurations that cannot make progress. An overlap
// equal to or larger than the chunk size is an error, never clamped.
func (c ChunkConfig) Validate() error {
	if c.Size <= 0 {
		return domain.NewDomainError(domain.ErrCodeValidation, "chunk size must be positive")
	}
	if c.Overlap < 0 {
		return domain.NewDomainError(domain.ErrCodeValidation, "chunk overlap cannot be negative")
	}
	if c.Overlap >= c.Size {
		return domain.ErrInvalidChunkConfig
	}
	switch c.Strategy {
	case ChunkStrategyFixed, ChunkStrategyParagraph, ChunkStrategySentence, "":
	default:
		return domain.NewDomainError(domain.ErrCodeValidation, "unknown chunking strategy: "+string(c.Strategy))
	}
	return nil
}

// ChunkText splits text into ordered chunk texts under the configured
// strategy. Concatenating the result with the leading overlap of every
// chunk after the first removed reconstructs the input, modulo whitespace
// normalization. Text no longer than one chunk size yields one chunk.
func ChunkText(text string, cfg ChunkConfig) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	switch cfg.Strategy {
	case ChunkStrategyParagraph:
		return chunkByUnits(splitParagraphs(text), cfg), nil
	case ChunkStrategySentence:
		return chunkByUnits(splitSentences(text), cfg), nil
	default:
		return chunkFixed(text, cfg), nil
	}
}

// chunkFixed emits windows of exactly cfg.Size runes advancing by
// Size-Overlap, so chunk i covers [i*stride, i*stride+Size). The final
// window is shorter when the text runs out.
func chunkFixed(text string, cfg ChunkConfig) []string {
	runes := []rune(text)
	if len(runes) <= cfg.Size {
		return []string{text}
	}

	stride := cfg.Size - cfg.Overlap
	chunks := make([]string, 0, len(runes)/stride+1)
	for start := 0; start < len(runes); start += stride {
		end := start + cfg.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end >= len(runes) {
			break
		}
	}
	return chunks
}

// chunkByUnits packs boundary-respecting units (paragraphs or sentences)
// into chunks of at most cfg.Size runes. Each chunk after the first starts
// with the trailing Overlap runes of its predecessor. A single unit longer
// than the chunk size is emitted whole rather than split mid-boundary.
func chunkByUnits(units []string, cfg ChunkConfig) []string {
	if len(units) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen == 0 {
			return
		}
		chunks = append(chunks, current.String())
		current.Reset()
		currentLen = 0
	}

	seed := func() {
		if cfg.Overlap <= 0 || len(chunks) == 0 {
			return
		}
		prev := []rune(chunks[len(chunks)-1])
		tail := prev
		if len(prev) > cfg.Overlap {
			tail = prev[len(prev)-cfg.Overlap:]
		}
		current.WriteString(string(tail))
		currentLen = len(tail)
	}

	for _, unit := range units {
		unitLen := len([]rune(unit))
		if currentLen > 0 && currentLen+1+unitLen > cfg.Size {
			flush()
		}
		if currentLen == 0 {
			seed()
		}
		if currentLen > 0 {
			current.WriteByte(' ')
			currentLen++
		}
		current.WriteString(unit)
		currentLen += unitLen
	}
	flush()

	if len(chunks) == 0 {
		return nil
	}
	return chunks
}

func splitParagraphs(text string) []string {
	parts := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	units := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			units = append(units, p)
		}
	}
	return units
}

func splitSentences(text string) []string {
	var units []string
	var sb strings.Builder
	runes := []rune(strings.TrimSpace(text))

	for i, r := range runes {
		sb.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			atEnd := i == len(runes)-1
			if atEnd || unicode.IsSpace(runes[i+1]) {
				s := strings.TrimSpace(sb.String())
				if s != "" {
					units = append(units, s)
				}
				sb.Reset()
			}
		}
	}
	if s := strings.TrimSpace(sb.String()); s != "" {
		units = append(units, s)
	}
	return units
}
