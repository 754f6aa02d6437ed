package llm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/config"
	"github.com/markdave123-py/ragready/internal/core"
)

// Providers is the embedder and chat model selected by LLM_PROVIDER.
type Providers struct {
	Embedder core.EmbeddingProvider
	Chat     core.LLMProvider
	closers  []func() error
}

func (p *Providers) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func NewProviders(ctx context.Context, cfg *config.Config, awsCfg aws.Config) (*Providers, error) {
	limiter := NewLimiter(cfg.EmbedRPS)
	switch cfg.LLMProvider {
	case "bedrock":
		api := bedrockruntime.NewFromConfig(awsCfg)
		chat, err := NewBedrockChat(api, cfg.ChatModel, cfg.ChatMaxToken, nil)
		if err != nil {
			return nil, err
		}
		return &Providers{
			Embedder: NewBedrockEmbedder(api, cfg.EmbedModel, cfg.EmbedDim, limiter),
			Chat:     chat,
		}, nil

	case "gemini":
		emb, err := NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel, cfg.EmbedDim, limiter)
		if err != nil {
			return nil, err
		}
		chat, err := NewGeminiLLM(ctx, cfg.AIAPIKey, cfg.ChatModel, cfg.ChatMaxToken, nil)
		if err != nil {
			_ = emb.Close()
			return nil, err
		}
		return &Providers{Embedder: emb, Chat: chat, closers: []func() error{emb.Close, chat.Close}}, nil

	case "ollama":
		emb, err := NewOllama(cfg.OllamaURL, cfg.EmbedModel, 0)
		if err != nil {
			return nil, err
		}
		chat, err := NewOllama(cfg.OllamaURL, cfg.ChatModel, cfg.ChatMaxToken)
		if err != nil {
			return nil, err
		}
		return &Providers{Embedder: emb, Chat: chat}, nil
	}
	return nil, apperr.Config("llm", fmt.Sprintf("LLM_PROVIDER %q is not supported", cfg.LLMProvider))
}
