package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
)

// Ollama serves both roles for local development against an Ollama server.
type Ollama struct {
	llm       *ollama.LLM
	modelID   string
	maxTokens int
}

func NewOllama(serverURL, modelID string, maxTokens int) (*Ollama, error) {
	l, err := ollama.New(ollama.WithModel(modelID), ollama.WithServerURL(serverURL))
	if err != nil {
		return nil, apperr.Config("ollama", err.Error())
	}
	return &Ollama{llm: l, modelID: modelID, maxTokens: maxTokens}, nil
}

func (o *Ollama) ModelID() string { return o.modelID }

func (o *Ollama) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := o.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, apperr.Transient("ollama embed", err)
	}
	return vecs, nil
}

func (o *Ollama) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}
	opts := []llms.CallOption{llms.WithTemperature(0.2)}
	if o.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(o.maxTokens))
	}
	resp, err := o.llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return "", apperr.Timeout("ollama generate", err)
		}
		return "", apperr.Transient("ollama generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.UnsupportedFormat("ollama generate", "response has no choices")
	}
	return resp.Choices[0].Content, nil
}

var (
	_ core.EmbeddingProvider = (*Ollama)(nil)
	_ core.LLMProvider       = (*Ollama)(nil)
)
