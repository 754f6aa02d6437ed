package core

import (
	"context"
)

// ExtractedPage is the raw text of one page, numbered from 1.
type ExtractedPage struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// ExtractedDocument is the output of the extraction stage.
type ExtractedDocument struct {
	Method  string            `json:"method"`
	Pages   []ExtractedPage   `json:"pages"`
	Outline []string          `json:"outline,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// DocumentExtractor extracts per-page text from raw bytes. The contentType
// hint helps the extractor choose the right parsing strategy.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (*ExtractedDocument, error)
}
