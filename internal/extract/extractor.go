// Package extract converts raw uploaded payloads into plain text.
package extract

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/sievedata/sieve/internal/domain"
)

// OCRClient recognizes text in image-based content. Used as the fallback
// for images and PDFs without an embedded text layer.
type OCRClient interface {
	RecognizeText(ctx context.Context, image []byte) (string, error)
}

// Metadata describes what extraction found alongside the text.
type Metadata struct {
	Pages   int
	Sheets  []string
	OCRUsed bool
}

// Result is the output of a successful extraction.
type Result struct {
	Text string
	Meta Metadata
}

// Extractor converts payloads of the supported formats into plain text.
// Extraction is side-effect-free: the same input always yields the same
// output, so a failed ingestion can safely re-run it.
type Extractor struct {
	ocr OCRClient
}

// New creates an Extractor. ocr may be nil, in which case image-based
// content without embedded text fails extraction.
func New(ocr OCRClient) *Extractor {
	return &Extractor{ocr: ocr}
}

// Extract converts payload to plain text according to the declared format.
// Unsupported formats fail immediately without attempting OCR.
func (e *Extractor) Extract(ctx context.Context, payload []byte, format domain.FileFormat) (*Result, error) {
	if len(payload) == 0 {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "empty payload", nil)
	}

	switch format {
	case domain.FormatText:
		return extractPlainText(payload)
	case domain.FormatMarkup:
		return extractMarkup(payload)
	case domain.FormatWordDoc:
		return extractDocx(payload)
	case domain.FormatSpreadsheet:
		return extractSpreadsheet(payload)
	case domain.FormatPDF:
		return e.extractPDF(ctx, payload)
	case domain.FormatImage:
		return e.runOCR(ctx, payload)
	default:
		return nil, domain.ErrUnsupportedFormat
	}
}

// SniffFormat guesses a format from magic bytes when the caller declared
// none. Defaults to plain text.
func SniffFormat(payload []byte) domain.FileFormat {
	switch {
	case bytes.HasPrefix(payload, []byte("%PDF-")):
		return domain.FormatPDF
	case bytes.HasPrefix(payload, []byte{0x89, 'P', 'N', 'G'}),
		bytes.HasPrefix(payload, []byte{0xFF, 0xD8, 0xFF}):
		return domain.FormatImage
	case bytes.HasPrefix(payload, []byte("PK")):
		if zipContains(payload, "word/document.xml") {
			return domain.FormatWordDoc
		}
		return domain.FormatSpreadsheet
	case looksLikeMarkup(payload):
		return domain.FormatMarkup
	default:
		return domain.FormatText
	}
}

func extractPlainText(payload []byte) (*Result, error) {
	// Strip a UTF-8 BOM if present
	payload = bytes.TrimPrefix(payload, []byte{0xEF, 0xBB, 0xBF})
	if !utf8.Valid(payload) {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "payload is not valid UTF-8 text", nil)
	}
	text := strings.ReplaceAll(string(payload), "\r\n", "\n")
	return &Result{Text: text}, nil
}

func extractMarkup(payload []byte) (*Result, error) {
	doc, err := html.Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "failed to parse markup", err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "head":
				return
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				sb.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	text := collapseBlankLines(sb.String())
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "markup contains no text", nil)
	}
	return &Result{Text: text}, nil
}

func (e *Extractor) runOCR(ctx context.Context, payload []byte) (*Result, error) {
	if e.ocr == nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "no OCR backend configured", nil)
	}
	text, err := e.ocr.RecognizeText(ctx, payload)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "OCR failed", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "OCR produced no text", nil)
	}
	return &Result{Text: text, Meta: Metadata{OCRUsed: true}}, nil
}

func looksLikeMarkup(payload []byte) bool {
	trimmed := bytes.TrimSpace(payload)
	return bytes.HasPrefix(trimmed, []byte("<"))
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
