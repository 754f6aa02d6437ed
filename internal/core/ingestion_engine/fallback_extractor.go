package ingestion_engine

import (
	"context"
	"unicode"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/logger"
)

// MinExtractableChars is the non-space character count below which a
// document is treated as scanned or image-only.
const MinExtractableChars = 50

const nonExtractableMsg = "No extractable text: likely a scanned/image document; OCR not supported"

var _ core.DocumentExtractor = (*FallbackExtractor)(nil)

// FallbackExtractor tries each strategy in order and keeps the first
// result that carries real text.
type FallbackExtractor struct {
	strategies []core.DocumentExtractor
	minChars   int
	log        *logger.Logger
}

func NewFallbackExtractor(log *logger.Logger, strategies ...core.DocumentExtractor) *FallbackExtractor {
	if log == nil {
		log = logger.Nop()
	}
	return &FallbackExtractor{strategies: strategies, minChars: MinExtractableChars, log: log}
}

// DefaultExtractor is docconv first, then the pure-Go PDF reader.
func DefaultExtractor(log *logger.Logger) *FallbackExtractor {
	return NewFallbackExtractor(log, NewDocconvExtractor(false), NewPDFReaderExtractor())
}

func (e *FallbackExtractor) Extract(ctx context.Context, data []byte, contentType string) (*core.ExtractedDocument, error) {
	for _, s := range e.strategies {
		if err := ctx.Err(); err != nil {
			return nil, apperr.Timeout("extract", err)
		}
		doc, err := s.Extract(ctx, data, contentType)
		if err != nil {
			e.log.Warn("extraction strategy failed", "content_type", contentType, "error", err)
			continue
		}
		if n := TextChars(doc); n >= e.minChars {
			return doc, nil
		}
		e.log.Debug("extraction strategy yielded too little text", "method", doc.Method)
	}
	return nil, apperr.NonExtractable("extract", nonExtractableMsg)
}

// TextChars counts non-space runes across all pages.
func TextChars(doc *core.ExtractedDocument) int {
	if doc == nil {
		return 0
	}
	n := 0
	for _, p := range doc.Pages {
		for _, r := range p.Text {
			if !unicode.IsSpace(r) {
				n++
			}
		}
	}
	return n
}
