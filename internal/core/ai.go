package core

import "context"

// EmbeddingProvider embeds texts with one fixed model. Vectors come back in
// input order.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
}

type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}
