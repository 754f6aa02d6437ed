package ingestion_engine

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
)

// buildPDF writes a minimal but complete PDF: catalog, page tree, one
// Helvetica font and one content stream per page, with a valid xref table.
func buildPDF(t *testing.T, compress bool, contents ...string) []byte {
	t.Helper()
	n := len(contents)
	fontObj := 3 + 2*n
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
	}
	kids := make([]string, n)
	for i := range contents {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	for i, c := range contents {
		body := []byte(c)
		filter := ""
		if compress {
			var z bytes.Buffer
			w := zlib.NewWriter(&z)
			_, err := w.Write(body)
			require.NoError(t, err)
			require.NoError(t, w.Close())
			body = z.Bytes()
			filter = " /Filter /FlateDecode"
		}
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", fontObj, 4+2*i),
			fmt.Sprintf("<< /Length %d%s >>\nstream\n%s\nendstream", len(body), filter, body),
		)
	}
	objs = append(objs, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

func TestPDFReaderExtractsEveryPage(t *testing.T) {
	page1 := "BT /F1 12 Tf 72 720 Td (Section 3 Concrete) Tj ET"
	page2 := "0 0 m 100 100 l S"
	page3 := "BT /F1 10 Tf 72 700 Td (Slab thickness 200mm) Tj ET"

	for _, compress := range []bool{false, true} {
		doc, err := NewPDFReaderExtractor().Extract(context.Background(), buildPDF(t, compress, page1, page2, page3), "application/pdf")

		require.NoError(t, err, "compress=%v", compress)
		require.Len(t, doc.Pages, 3)
		assert.Equal(t, "pdf-reader", doc.Method)
		assert.Equal(t, "3", doc.Meta["page_count"])
		assert.Contains(t, doc.Pages[0].Text, "Section 3 Concrete")
		assert.Empty(t, strings.TrimSpace(doc.Pages[1].Text), "graphics-only page has no text")
		assert.Equal(t, 3, doc.Pages[2].Number)
		assert.Contains(t, doc.Pages[2].Text, "Slab thickness 200mm")
	}
}

func TestPDFReaderRejectsOtherFormats(t *testing.T) {
	_, err := NewPDFReaderExtractor().Extract(context.Background(), []byte("plain text notes"), "text/plain")
	assert.ErrorIs(t, err, errNotPDF)

	_, err = NewPDFReaderExtractor().Extract(context.Background(), []byte("%PDF-1.4\ngarbage"), "application/pdf")
	assert.Error(t, err)
}

func TestGraphicsOnlyPDFIsNonExtractable(t *testing.T) {
	data := buildPDF(t, true, "0 0 m 100 100 l S", "q 612 0 0 792 0 0 cm Q")

	_, err := NewFallbackExtractor(nil, NewPDFReaderExtractor()).Extract(context.Background(), data, "application/pdf")

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNonExtractable))
}

type stubExtractor struct {
	doc *core.ExtractedDocument
	err error
	n   int
}

func (s *stubExtractor) Extract(context.Context, []byte, string) (*core.ExtractedDocument, error) {
	s.n++
	return s.doc, s.err
}

func TestFallbackUsesSecondStrategy(t *testing.T) {
	fast := &stubExtractor{err: errors.New("pdftotext missing")}
	slow := &stubExtractor{doc: extracted(strings.Repeat("concrete ", 10))}

	doc, err := NewFallbackExtractor(nil, fast, slow).Extract(context.Background(), nil, "application/pdf")

	require.NoError(t, err)
	assert.Same(t, slow.doc, doc)
	assert.Equal(t, 1, fast.n)
}

func TestFallbackStopsAtFirstGoodResult(t *testing.T) {
	fast := &stubExtractor{doc: extracted(strings.Repeat("steel ", 20))}
	slow := &stubExtractor{doc: extracted("unused")}

	_, err := NewFallbackExtractor(nil, fast, slow).Extract(context.Background(), nil, "application/pdf")

	require.NoError(t, err)
	assert.Zero(t, slow.n)
}

func TestFallbackReportsScannedDocument(t *testing.T) {
	thin := &stubExtractor{doc: extracted("  p1  ", "\n\n")}

	_, err := NewFallbackExtractor(nil, thin, &stubExtractor{err: errors.New("boom")}).Extract(context.Background(), nil, "application/pdf")

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindNonExtractable))
	assert.False(t, apperr.Retryable(err))
	assert.Contains(t, err.Error(), "OCR not supported")
}

func TestTextChars(t *testing.T) {
	assert.Equal(t, 6, TextChars(extracted("ab c", " d e f ")))
	assert.Zero(t, TextChars(nil))
}
