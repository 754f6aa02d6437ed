package ingestion_engine

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/markdave123-py/ragready/internal/core/construction"
	"github.com/markdave123-py/ragready/internal/models"
)

// RecordSource identifies the document the chunks belong to.
type RecordSource struct {
	TenantID       string
	DatasetID      string
	DocID          string
	Filename       string
	EmbeddingModel string
}

// ChunkID is stable for a (document, index) pair.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s#c%d", docID, index)
}

// ContentHash fingerprints a chunk by its identity and whitespace-folded text.
func ContentHash(docID string, page, index int, text string) string {
	base := fmt.Sprintf("%s|%d|%d|%s", docID, page, index, strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

// BuildChunkRecords attaches identity and construction metadata to spans.
// The document type is classified once over the whole document; discipline,
// section and standards are per chunk.
func BuildChunkRecords(src RecordSource, spans []ChunkSpan, g *construction.Glossary) []models.Chunk {
	if g == nil {
		g = construction.Default()
	}
	var full strings.Builder
	for _, s := range spans {
		full.WriteString(s.Text)
		full.WriteString("\n\n")
	}
	docType, _ := g.ClassifyDocument(full.String())

	out := make([]models.Chunk, 0, len(spans))
	for _, s := range spans {
		page := s.Page
		standards := g.ExtractStandards(s.Text)
		if len(standards) == 0 {
			standards = nil
		}
		out = append(out, models.Chunk{
			ChunkID:             ChunkID(src.DocID, s.Index),
			DocID:               src.DocID,
			TenantID:            src.TenantID,
			DatasetID:           src.DatasetID,
			Filename:            src.Filename,
			Page:                &page,
			ChunkIndex:          s.Index,
			Text:                s.Text,
			ContentHash:         ContentHash(src.DocID, s.Page, s.Index, s.Text),
			EmbeddingModel:      src.EmbeddingModel,
			DocType:             docType,
			Discipline:          g.DetectDiscipline(s.Text),
			SectionReference:    g.ExtractSectionReference(s.Text),
			StandardsReferenced: standards,
		})
	}
	return out
}

// EncodeJSONL writes one chunk per line.
func EncodeJSONL(chunks []models.Chunk) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range chunks {
		if err := enc.Encode(&chunks[i]); err != nil {
			return nil, fmt.Errorf("encode chunk %s: %w", chunks[i].ChunkID, err)
		}
	}
	return buf.Bytes(), nil
}

func DecodeJSONL(data []byte) ([]models.Chunk, error) {
	var out []models.Chunk
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var c models.Chunk
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			return nil, fmt.Errorf("chunks line %d: %w", line, err)
		}
		out = append(out, c)
	}
	return out, sc.Err()
}
