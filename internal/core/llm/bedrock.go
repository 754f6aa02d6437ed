package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
)

// InvokeAPI is the slice of the Bedrock runtime client used here.
type InvokeAPI interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

func invoke(ctx context.Context, api InvokeAPI, op, modelID string, body []byte) ([]byte, error) {
	out, err := api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, classify(ctx, op, err)
	}
	return out.Body, nil
}

// classify maps Bedrock errors onto apperr kinds. Validation and access
// errors are configuration problems and are never retried.
func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return apperr.Timeout(op, err)
	}
	var (
		validation *types.ValidationException
		denied     *types.AccessDeniedException
		notFound   *types.ResourceNotFoundException
		throttled  *types.ThrottlingException
		timeout    *types.ModelTimeoutException
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &denied), errors.As(err, &notFound):
		return &apperr.Error{Kind: apperr.KindConfig, Op: op, Err: err}
	case errors.As(err, &timeout):
		return apperr.Timeout(op, err)
	case errors.As(err, &throttled):
		return apperr.Transient(op, err)
	default:
		return apperr.Transient(op, err)
	}
}

// BedrockEmbedder embeds one text per InvokeModel call. Texts of a batch
// go one after another: callers bound concurrency by running batches in
// parallel, so each batch holds at most one request in flight.
type BedrockEmbedder struct {
	api     InvokeAPI
	modelID string
	dim     int
	limiter *Limiter
}

func NewBedrockEmbedder(api InvokeAPI, modelID string, dim int, limiter *Limiter) *BedrockEmbedder {
	return &BedrockEmbedder{api: api, modelID: modelID, dim: dim, limiter: limiter}
}

func (b *BedrockEmbedder) ModelID() string { return b.modelID }

func (b *BedrockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		body, err := EmbeddingRequest(b.modelID, text, b.dim)
		if err != nil {
			return nil, fmt.Errorf("encode embedding request: %w", err)
		}
		raw, err := invoke(ctx, b.api, "bedrock embed", b.modelID, body)
		if err != nil {
			return nil, err
		}
		vec, err := ParseEmbedding(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

type BedrockChat struct {
	api       InvokeAPI
	modelID   string
	family    ModelFamily
	maxTokens int
	limiter   *Limiter
}

// NewBedrockChat fails for model ids whose response format is unknown so a
// bad CHAT_MODEL is caught at startup.
func NewBedrockChat(api InvokeAPI, modelID string, maxTokens int, limiter *Limiter) (*BedrockChat, error) {
	family, err := FamilyFor(modelID)
	if err != nil {
		return nil, err
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &BedrockChat{api: api, modelID: modelID, family: family, maxTokens: maxTokens, limiter: limiter}, nil
}

func (b *BedrockChat) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}
	body, err := b.family.ChatRequest(systemPrompt, userPrompt, b.maxTokens)
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", b.family.Name(), err)
	}
	raw, err := invoke(ctx, b.api, "bedrock chat", b.modelID, body)
	if err != nil {
		return "", err
	}
	return b.family.ParseChat(raw)
}

var (
	_ core.EmbeddingProvider = (*BedrockEmbedder)(nil)
	_ core.LLMProvider       = (*BedrockChat)(nil)
)
