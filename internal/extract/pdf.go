package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/sievedata/sieve/internal/domain"
)

// extractPDF reads the embedded text layer. Scanned or malformed PDFs fall
// back to OCR; only when both paths fail does extraction error out.
func (e *Extractor) extractPDF(ctx context.Context, payload []byte) (*Result, error) {
	text, pages, err := pdfPlainText(payload)
	if err == nil && strings.TrimSpace(text) != "" {
		return &Result{Text: text, Meta: Metadata{Pages: pages}}, nil
	}

	res, ocrErr := e.runOCR(ctx, payload)
	if ocrErr != nil {
		if err != nil {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "PDF parse failed and OCR fallback failed", err)
		}
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeExtraction, "PDF has no text layer and OCR fallback failed", ocrErr)
	}
	res.Meta.Pages = pages
	return res, nil
}

// pdfPlainText extracts the text layer. The pdf library panics on some
// malformed inputs, so the panic is converted into an error here.
func pdfPlainText(payload []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return "", 0, err
	}
	pages = reader.NumPage()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", pages, err
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", pages, err
	}
	return sb.String(), pages, nil
}
