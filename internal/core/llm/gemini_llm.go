package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
)

// GeminiLLM answers grounded chat prompts with a Gemini model.
type GeminiLLM struct {
	client    *genai.Client
	modelName string
	maxTokens int32
	limiter   *Limiter
}

func NewGeminiLLM(ctx context.Context, apiKey, modelName string, maxTokens int, limiter *Limiter) (*GeminiLLM, error) {
	if apiKey == "" {
		return nil, apperr.Config("gemini llm", "GEMINI_API_KEY not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, apperr.Transient("gemini llm", err)
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiLLM{client: cl, modelName: modelName, maxTokens: int32(maxTokens), limiter: limiter}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	m := g.client.GenerativeModel(g.modelName)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	if g.maxTokens > 0 {
		m.SetMaxOutputTokens(g.maxTokens)
	}
	m.SetTemperature(0.2)

	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", classify(ctx, "gemini generate", err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return "", apperr.UnsupportedFormat("gemini generate",
			fmt.Sprintf("prompt blocked: %s", resp.PromptFeedback.BlockReason))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", apperr.UnsupportedFormat("gemini generate", "response withheld by safety filter")
	}

	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String()), nil
}

var _ core.LLMProvider = (*GeminiLLM)(nil)
