package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/ragready/internal/core"
)

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv.
type DocconvExtractor struct {
	useReadability bool
}

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

// Extract converts the document and splits the body into pages on form
// feeds, which is how pdftotext marks page breaks.
func (e *DocconvExtractor) Extract(ctx context.Context, data []byte, contentType string) (*core.ExtractedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
	if err != nil {
		return nil, fmt.Errorf("docconv %s: %w", contentType, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw := strings.Split(res.Body, "\f")
	// pdftotext terminates the last page with a form feed too
	if len(raw) > 1 && strings.TrimSpace(raw[len(raw)-1]) == "" {
		raw = raw[:len(raw)-1]
	}
	pages := make([]core.ExtractedPage, 0, len(raw))
	for i, text := range raw {
		pages = append(pages, core.ExtractedPage{Number: i + 1, Text: text})
	}
	return &core.ExtractedDocument{
		Method:  "docconv",
		Pages:   pages,
		Outline: outlineOf(pages),
		Meta:    res.Meta,
	}, nil
}

var headingLine = regexp.MustCompile(`^(?:(?:SECTION|PART|CLAUSE|APPENDIX)\s+[0-9A-Z][\w.]*|\d+(?:\.\d+)*\.?)\s+[A-Z][^.]{2,80}$`)

// outlineOf collects numbered or labelled heading lines, in page order.
func outlineOf(pages []core.ExtractedPage) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range pages {
		for _, line := range strings.Split(p.Text, "\n") {
			line = strings.TrimSpace(line)
			if len(line) > 90 || !headingLine.MatchString(line) || seen[line] {
				continue
			}
			seen[line] = true
			out = append(out, line)
		}
	}
	return out
}
