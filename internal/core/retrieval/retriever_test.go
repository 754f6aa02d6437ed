package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core/memstore"
	"github.com/markdave123-py/ragready/internal/models"
)

type fixedEmbedder struct {
	vec   []float32
	delay time.Duration
}

func (f fixedEmbedder) ModelID() string { return "fixed" }

func (f fixedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func seed(t *testing.T, store *memstore.VectorStore, tenant, dataset, doc string, vecs ...[]float32) {
	t.Helper()
	chunks := make([]models.Chunk, len(vecs))
	for i, v := range vecs {
		chunks[i] = models.Chunk{ChunkID: doc + "#" + string(rune('a'+i)), ChunkIndex: i, Text: doc, Embedding: v}
	}
	require.NoError(t, store.ReplaceDocument(context.Background(), tenant, dataset, doc, chunks))
}

func TestClampTopK(t *testing.T) {
	assert.Equal(t, DefaultTopK, ClampTopK(0))
	assert.Equal(t, DefaultTopK, ClampTopK(-3))
	assert.Equal(t, 1, ClampTopK(1))
	assert.Equal(t, MaxTopK, ClampTopK(500))
}

func TestSearchNeverCrossesTenants(t *testing.T) {
	store := memstore.NewVectorStore(2)
	seed(t, store, "tenant-a", "shared", "a-doc", []float32{1, 0})
	seed(t, store, "tenant-b", "shared", "b-doc", []float32{1, 0}, []float32{0.9, 0.1})
	r := NewRetriever(fixedEmbedder{vec: []float32{1, 0}}, store, 2, Timeouts{}, nil)

	hits, err := r.Search(context.Background(), "tenant-a", "shared", "hard hats", 10)

	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a-doc", hits[0].DocID)
}

func TestSearchValidatesInput(t *testing.T) {
	r := NewRetriever(fixedEmbedder{vec: []float32{1, 0}}, memstore.NewVectorStore(2), 2, Timeouts{}, nil)
	ctx := context.Background()

	_, err := r.Search(ctx, "t", "d", "   ", 5)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	_, err = r.SearchVector(ctx, "", "d", []float32{1, 0}, 5)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))

	_, err = r.SearchVector(ctx, "t", "d", []float32{1, 0, 0}, 5)
	assert.True(t, apperr.Is(err, apperr.KindConfig))
}

func TestSlowEmbeddingSurfacesAsTimeout(t *testing.T) {
	r := NewRetriever(fixedEmbedder{vec: []float32{1, 0}, delay: time.Second}, memstore.NewVectorStore(2), 2,
		Timeouts{Embed: 10 * time.Millisecond}, nil)

	_, err := r.Search(context.Background(), "t", "d", "ppe", 5)

	assert.True(t, apperr.Is(err, apperr.KindTimeout))
	assert.True(t, apperr.Retryable(err))
}
