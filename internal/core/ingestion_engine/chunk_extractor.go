package ingestion_engine

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/models"
)

const (
	ChunkTooSmall = "CHUNK_TOO_SMALL"
	ChunkTooLarge = "CHUNK_TOO_LARGE"
)

// ChunkSpan is one chunk of text attributed to a single page.
type ChunkSpan struct {
	Index int
	Page  int
	Text  string
}

// Chunker splits a normalized document into paragraph-aligned spans.
//
// MinChars:     a span is emitted once its buffer reaches this size.
// MaxChars:     hard upper bound for any span.
// OverlapChars: characters shared by consecutive windows of an over-long paragraph.
type Chunker struct {
	MinChars     int
	MaxChars     int
	OverlapChars int
}

func NewChunker(cfg ChunkConfig) *Chunker {
	c := &Chunker{MinChars: cfg.MinChars, MaxChars: cfg.MaxChars, OverlapChars: cfg.OverlapChars}
	if c.MaxChars <= 0 {
		c.MaxChars = 1200
	}
	if c.MinChars <= 0 || c.MinChars > c.MaxChars {
		c.MinChars = c.MaxChars * 2 / 3
	}
	if c.OverlapChars < 0 || c.OverlapChars >= c.MaxChars/2 {
		c.OverlapChars = c.MaxChars / 6
	}
	return c
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// Split never crosses a page boundary and skips pages that copy an earlier
// page, so a repeated page contributes no chunks of its own. Indexes are
// contiguous from 0 across the document.
func (c *Chunker) Split(doc *core.NormalizedDocument) []ChunkSpan {
	var spans []ChunkSpan
	for _, p := range doc.DistinctPages() {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		page := p.Number
		var buf []string
		size := 0

		// flush emits the buffered paragraphs as one span.
		flush := func() {
			if size == 0 {
				return
			}
			spans = append(spans, ChunkSpan{Index: len(spans), Page: page, Text: strings.Join(buf, "\n\n")})
			buf = buf[:0]
			size = 0
		}

		for _, piece := range c.pieces(p.Text) {
			n := runeLen(piece)
			if size > 0 && size+2+n > c.MaxChars {
				flush()
			}
			if size > 0 {
				size += 2
			}
			buf = append(buf, piece)
			size += n
			if size >= c.MinChars {
				flush()
			}
		}
		flush()
	}
	return spans
}

// pieces returns the page's paragraphs with inner line breaks folded into
// spaces. Paragraphs longer than MaxChars are cut into windows.
func (c *Chunker) pieces(text string) []string {
	var out []string
	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.Join(strings.Fields(para), " ")
		if para == "" {
			continue
		}
		if runeLen(para) <= c.MaxChars {
			out = append(out, para)
			continue
		}
		out = append(out, c.windows(para)...)
	}
	return out
}

// windows cuts text into spans of at most MaxChars runes that overlap by
// OverlapChars, breaking at whitespace when one is close to the limit.
func (c *Chunker) windows(text string) []string {
	rs := []rune(text)
	var out []string
	start := 0
	for start < len(rs) {
		end := min(start+c.MaxChars, len(rs))
		if end < len(rs) {
			if sp := lastSpace(rs[start:end]); sp > c.MaxChars*3/5 {
				end = start + sp
			}
		}
		if seg := strings.TrimSpace(string(rs[start:end])); seg != "" {
			out = append(out, seg)
		}
		if end >= len(rs) {
			break
		}
		next := end - c.OverlapChars
		if next <= start {
			next = end
		}
		// start the next window on a word
		for i := next; i < end; i++ {
			if unicode.IsSpace(rs[i]) {
				next = i + 1
				break
			}
		}
		start = next
	}
	return out
}

func lastSpace(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if unicode.IsSpace(rs[i]) {
			return i
		}
	}
	return -1
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// ChunkWarnings flags spans outside the recommended size band. They are
// reported in the document manifest and never change the readiness score.
func ChunkWarnings(spans []ChunkSpan, small, large int) []models.Finding {
	var out []models.Finding
	for _, s := range spans {
		n := runeLen(s.Text)
		switch {
		case n < small:
			out = append(out, models.Finding{
				Type:           ChunkTooSmall,
				Severity:       models.SeverityWarn,
				Description:    fmt.Sprintf("Chunk %d (page %d) has %d characters, below the recommended minimum.", s.Index, s.Page, n),
				Recommendation: "Short chunks carry little context; check for sparse pages.",
			})
		case n > large:
			out = append(out, models.Finding{
				Type:           ChunkTooLarge,
				Severity:       models.SeverityWarn,
				Description:    fmt.Sprintf("Chunk %d (page %d) has %d characters, above the recommended maximum.", s.Index, s.Page, n),
				Recommendation: "Reduce chunk size to avoid embedding truncation.",
			})
		}
	}
	return out
}
