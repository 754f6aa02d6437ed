package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/markdave123-py/ragready/internal/apperr"
)

// ModelFamily builds chat requests and reads chat responses for one family
// of hosted models. The family is picked from the model id prefix.
type ModelFamily interface {
	Name() string
	Matches(modelID string) bool
	ChatRequest(system, user string, maxTokens int) ([]byte, error)
	ParseChat(raw []byte) (string, error)
}

var families = []ModelFamily{anthropicFamily{}, titanFamily{}, llamaFamily{}}

// regionPrefixes mark cross-region inference profiles such as
// "us.anthropic.claude-3-haiku".
var regionPrefixes = []string{"us.", "eu.", "apac.", "us-gov."}

func baseModelID(modelID string) string {
	for _, p := range regionPrefixes {
		if rest, ok := strings.CutPrefix(modelID, p); ok {
			return rest
		}
	}
	return modelID
}

// FamilyFor returns the family of a Bedrock model id.
func FamilyFor(modelID string) (ModelFamily, error) {
	base := baseModelID(modelID)
	for _, f := range families {
		if f.Matches(base) {
			return f, nil
		}
	}
	return nil, apperr.Config("llm", fmt.Sprintf("no response parser for chat model %q", modelID))
}

func unsupported(family string, raw []byte) error {
	sample := string(raw)
	if len(sample) > 200 {
		sample = sample[:200]
	}
	return apperr.UnsupportedFormat("llm", fmt.Sprintf("unsupported response format for %s model: %s", family, sample))
}

type anthropicFamily struct{}

func (anthropicFamily) Name() string { return "anthropic" }

func (anthropicFamily) Matches(id string) bool { return strings.HasPrefix(id, "anthropic.") }

func (anthropicFamily) ChatRequest(system, user string, maxTokens int) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	return json.Marshal(struct {
		AnthropicVersion string    `json:"anthropic_version"`
		MaxTokens        int       `json:"max_tokens"`
		System           string    `json:"system,omitempty"`
		Messages         []message `json:"messages"`
		Temperature      float64   `json:"temperature"`
	}{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           system,
		Messages:         []message{{Role: "user", Content: user}},
		Temperature:      0.2,
	})
}

func (f anthropicFamily) ParseChat(raw []byte) (string, error) {
	var resp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || len(resp.Content) == 0 {
		return "", unsupported(f.Name(), raw)
	}
	var b strings.Builder
	for _, c := range resp.Content {
		if c.Type == "" || c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String(), nil
}

type titanFamily struct{}

func (titanFamily) Name() string { return "titan" }

func (titanFamily) Matches(id string) bool { return strings.HasPrefix(id, "amazon.titan-text") }

func (titanFamily) ChatRequest(system, user string, maxTokens int) ([]byte, error) {
	type config struct {
		MaxTokenCount int     `json:"maxTokenCount"`
		Temperature   float64 `json:"temperature"`
	}
	return json.Marshal(struct {
		InputText string `json:"inputText"`
		Config    config `json:"textGenerationConfig"`
	}{
		InputText: system + "\n\nUser: " + user + "\n\nBot:",
		Config:    config{MaxTokenCount: maxTokens, Temperature: 0.2},
	})
}

func (f titanFamily) ParseChat(raw []byte) (string, error) {
	var resp struct {
		Results []struct {
			OutputText string `json:"outputText"`
		} `json:"results"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || len(resp.Results) == 0 {
		return "", unsupported(f.Name(), raw)
	}
	return strings.TrimSpace(resp.Results[0].OutputText), nil
}

type llamaFamily struct{}

func (llamaFamily) Name() string { return "llama" }

func (llamaFamily) Matches(id string) bool { return strings.HasPrefix(id, "meta.llama") }

func (llamaFamily) ChatRequest(system, user string, maxTokens int) ([]byte, error) {
	prompt := "<|begin_of_text|><|start_header_id|>system<|end_header_id|>\n\n" + system +
		"<|eot_id|><|start_header_id|>user<|end_header_id|>\n\n" + user +
		"<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n"
	return json.Marshal(struct {
		Prompt      string  `json:"prompt"`
		MaxGenLen   int     `json:"max_gen_len"`
		Temperature float64 `json:"temperature"`
	}{Prompt: prompt, MaxGenLen: maxTokens, Temperature: 0.2})
}

func (f llamaFamily) ParseChat(raw []byte) (string, error) {
	var resp struct {
		Generation *string `json:"generation"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Generation == nil {
		return "", unsupported(f.Name(), raw)
	}
	return strings.TrimSpace(*resp.Generation), nil
}

// EmbeddingRequest builds the body for one text. Cohere models take a
// texts array; Titan takes inputText and an optional dimension.
func EmbeddingRequest(modelID, text string, dim int) ([]byte, error) {
	base := baseModelID(modelID)
	if strings.HasPrefix(base, "cohere.") {
		return json.Marshal(struct {
			Texts     []string `json:"texts"`
			InputType string   `json:"input_type"`
		}{Texts: []string{text}, InputType: "search_document"})
	}
	body := map[string]any{"inputText": text}
	if dim > 0 && strings.HasPrefix(base, "amazon.titan-embed-text-v2") {
		body["dimensions"] = dim
	}
	return json.Marshal(body)
}

// ParseEmbedding accepts the envelopes returned by the supported embedding
// models: {"embedding": [...]}, {"embeddings": [[...]]} and {"vector": [...]}.
func ParseEmbedding(raw []byte) ([]float32, error) {
	var resp struct {
		Embedding  []float32   `json:"embedding"`
		Embeddings [][]float32 `json:"embeddings"`
		Vector     []float32   `json:"vector"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, unsupported("embedding", raw)
	}
	switch {
	case len(resp.Embedding) > 0:
		return resp.Embedding, nil
	case len(resp.Embeddings) > 0 && len(resp.Embeddings[0]) > 0:
		return resp.Embeddings[0], nil
	case len(resp.Vector) > 0:
		return resp.Vector, nil
	}
	return nil, unsupported("embedding", raw)
}
