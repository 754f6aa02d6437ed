package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
)

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	dim       int32
	limiter   *Limiter
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, dim int, limiter *Limiter) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, apperr.Config("gemini embedder", "GEMINI_API_KEY not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cl, modelName: modelName, dim: int32(dim), limiter: limiter}, nil
}

func (g *GeminiEmbedder) ModelID() string { return g.modelName }

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedTexts batches all texts in one request via EmbeddingBatch.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	em := g.client.EmbeddingModel(g.modelName)
	em.TaskType = genai.TaskTypeRetrievalDocument

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, classify(ctx, "gemini batch embed", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, apperr.Transient("gemini batch embed", fmt.Errorf("got %d embeddings for %d texts", len(resp.Embeddings), len(texts)))
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	if err := checkDims("gemini batch embed", g.modelName, out, int(g.dim)); err != nil {
		return nil, err
	}
	return out, nil
}

// checkDims rejects vectors whose length differs from the configured
// dimension. The batch API has no output-size knob, so a mismatch means
// EMBED_DIM does not fit the model.
func checkDims(op, model string, vecs [][]float32, dim int) error {
	if dim <= 0 {
		return nil
	}
	for _, v := range vecs {
		if len(v) != dim {
			return apperr.Config(op, fmt.Sprintf("model %s returned %d dims, EMBED_DIM is %d", model, len(v), dim))
		}
	}
	return nil
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
