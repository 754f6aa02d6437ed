package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/markdave123-py/ragready/internal/core"
)

var _ core.DocumentExtractor = (*PDFReaderExtractor)(nil)

var errNotPDF = errors.New("not a PDF document")

// PDFReaderExtractor is the pure-Go fallback for hosts without pdftotext.
// It walks the page tree, so page numbers are the document's own and pages
// without text are kept empty.
type PDFReaderExtractor struct{}

func NewPDFReaderExtractor() *PDFReaderExtractor { return &PDFReaderExtractor{} }

func (e *PDFReaderExtractor) Extract(ctx context.Context, data []byte, contentType string) (doc *core.ExtractedDocument, err error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("%PDF")) {
		return nil, fmt.Errorf("pdf reader %s: %w", contentType, errNotPDF)
	}
	// the reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("pdf reader: malformed document: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pdf reader: %w", err)
	}
	n := r.NumPage()
	pages := make([]core.ExtractedPage, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		text := ""
		if !p.V.IsNull() {
			if text, err = p.GetPlainText(nil); err != nil {
				return nil, fmt.Errorf("pdf reader page %d: %w", i, err)
			}
		}
		pages = append(pages, core.ExtractedPage{Number: i, Text: strings.TrimRight(text, " \t\r\n")})
	}
	return &core.ExtractedDocument{
		Method:  "pdf-reader",
		Pages:   pages,
		Outline: outlineOf(pages),
		Meta:    map[string]string{"page_count": fmt.Sprint(n)},
	}, nil
}
