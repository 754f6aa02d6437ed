package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/core"
	"github.com/markdave123-py/ragready/internal/core/construction"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/models"
)

// NotFoundAnswer is returned when retrieval finds nothing, without calling
// the chat model. The system prompt asks the model for the same sentence.
const NotFoundAnswer = "I cannot find this in the documents."

const excerptChars = 1200

var systemPrompt = `You are a construction project assistant answering questions from project documents
(specifications, drawings notes, RFIs, submittals, safety plans and contracts).
Answer only from the numbered sources given to you. Cite every statement with the source
marker it came from, for example [S1] or [S1][S3]. If the sources do not contain the answer,
say "` + NotFoundAnswer + `" and do not guess.
Read abbreviations the way the construction industry uses them (RFI, PPE, MEP, GC, CSI section
numbers such as 03 30 00) and keep standard references (ASTM, ACI, OSHA) exactly as written.`

// Searcher is satisfied by *retrieval.Retriever.
type Searcher interface {
	Search(ctx context.Context, tenantID, datasetID, query string, topK int) ([]models.SearchHit, error)
}

type ChatRequest struct {
	TenantID       string `json:"-"`
	DatasetID      string `json:"dataset_id"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	TopK           int    `json:"top_k,omitempty"`
}

type ChatResponse struct {
	ConversationID string            `json:"conversation_id"`
	MessageID      string            `json:"message_id"`
	Answer         string            `json:"answer"`
	Citations      []models.Citation `json:"citations"`
}

type ChatService struct {
	store    core.MetadataStore
	search   Searcher
	llm      core.LLMProvider
	glossary *construction.Glossary
	timeout  time.Duration
	log      *logger.Logger
	tracer   trace.Tracer
}

func NewChatService(store core.MetadataStore, search Searcher, llm core.LLMProvider, g *construction.Glossary, chatTimeout time.Duration, log *logger.Logger) *ChatService {
	if g == nil {
		g = construction.Default()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ChatService{
		store: store, search: search, llm: llm, glossary: g, timeout: chatTimeout, log: log,
		tracer: otel.Tracer("ragready/chat"),
	}
}

// Chat answers one question against a READY dataset and appends both turns
// to the conversation.
func (s *ChatService) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	question := strings.TrimSpace(req.Message)
	if question == "" {
		return nil, apperr.Invalid("chat", "message is empty")
	}
	ctx, span := s.tracer.Start(ctx, "chat", trace.WithAttributes(
		attribute.String("tenant_id", req.TenantID),
		attribute.String("dataset_id", req.DatasetID),
	))
	defer span.End()

	if err := s.requireReady(ctx, req.TenantID, req.DatasetID); err != nil {
		return nil, err
	}
	conv, err := s.existingConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	hits, err := s.search.Search(ctx, req.TenantID, req.DatasetID, s.glossary.ExpandQuery(question), req.TopK)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	answer := NotFoundAnswer
	var citations []models.Citation
	if len(hits) > 0 {
		citations = Citations(hits)
		answer, err = s.generate(ctx, question, hits)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if conv == nil {
		conv = &models.Conversation{ID: uuid.NewString(), TenantID: req.TenantID, DatasetID: req.DatasetID}
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
	}
	if err := s.store.AppendMessage(ctx, &models.Message{
		ID: uuid.NewString(), ConversationID: conv.ID, Role: "user", Content: question,
	}); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}
	reply := &models.Message{
		ID: uuid.NewString(), ConversationID: conv.ID, Role: "assistant", Content: answer, Citations: citations,
	}
	if err := s.store.AppendMessage(ctx, reply); err != nil {
		return nil, fmt.Errorf("save assistant message: %w", err)
	}

	s.log.Info("chat answered", "tenant_id", req.TenantID, "dataset_id", req.DatasetID,
		"conversation_id", conv.ID, "hits", len(hits))
	if citations == nil {
		citations = []models.Citation{}
	}
	return &ChatResponse{ConversationID: conv.ID, MessageID: reply.ID, Answer: answer, Citations: citations}, nil
}

// History returns the ordered messages of a conversation owned by tenantID.
func (s *ChatService) History(ctx context.Context, tenantID, conversationID string) ([]models.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.TenantID != tenantID {
		return nil, apperr.NotFound("history", "conversation "+conversationID+" not found")
	}
	return s.store.ListMessages(ctx, conversationID)
}

func (s *ChatService) requireReady(ctx context.Context, tenantID, datasetID string) error {
	ds, err := s.store.GetDataset(ctx, datasetID)
	if err != nil {
		return err
	}
	// another tenant's dataset is reported exactly like a missing one
	if ds == nil || ds.TenantID != tenantID {
		return apperr.NotFound("chat", "dataset "+datasetID+" not found")
	}
	if ds.Status != models.DatasetReady {
		return apperr.NotReady("chat", fmt.Sprintf("dataset %s is %s, not READY", datasetID, ds.Status))
	}
	return nil
}

// existingConversation validates a caller-supplied conversation. It returns
// nil when the request starts a new one; Chat creates that only once an
// answer is ready to persist.
func (s *ChatService) existingConversation(ctx context.Context, req ChatRequest) (*models.Conversation, error) {
	if req.ConversationID == "" {
		return nil, nil
	}
	c, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.TenantID != req.TenantID {
		return nil, apperr.NotFound("chat", "conversation "+req.ConversationID+" not found")
	}
	if c.DatasetID != req.DatasetID {
		return nil, apperr.Conflict("chat", fmt.Sprintf("conversation %s belongs to dataset %s", c.ID, c.DatasetID))
	}
	return c, nil
}

func (s *ChatService) generate(ctx context.Context, question string, hits []models.SearchHit) (string, error) {
	var (
		cctx   context.Context
		cancel context.CancelFunc
	)
	if s.timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, s.timeout)
	} else {
		cctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	userPrompt := fmt.Sprintf("Sources:\n%s\nQuestion: %s", SourceBlock(hits), question)
	answer, err := s.llm.Generate(cctx, systemPrompt, userPrompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !apperr.Is(err, apperr.KindTimeout) {
			return "", apperr.Timeout("chat completion", err)
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", apperr.Transient("chat completion", errors.New("model returned an empty answer"))
	}
	return answer, nil
}

// SourceBlock numbers hits as [S1], [S2], ... in rank order.
func SourceBlock(hits []models.SearchHit) string {
	var sb strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&sb, "[S%d] %s", i+1, h.Filename)
		if h.Page != nil {
			fmt.Fprintf(&sb, ", page %d", *h.Page)
		}
		if meta := describe(h.Metadata); meta != "" {
			sb.WriteString(" (" + meta + ")")
		}
		sb.WriteString("\n")
		sb.WriteString(excerpt(h.Text, excerptChars))
		sb.WriteString("\n---\n")
	}
	return sb.String()
}

func Citations(hits []models.SearchHit) []models.Citation {
	out := make([]models.Citation, len(hits))
	for i, h := range hits {
		out[i] = models.Citation{
			SourceID: fmt.Sprintf("S%d", i+1),
			ChunkID:  h.ChunkID,
			DocID:    h.DocID,
			Filename: h.Filename,
			Page:     h.Page,
			Score:    h.Score,
		}
	}
	return out
}

func describe(m models.DomainMetadata) string {
	var parts []string
	if m.DocType != "" {
		parts = append(parts, m.DocType)
	}
	if m.Discipline != "" {
		parts = append(parts, m.Discipline)
	}
	if m.SectionReference != "" {
		parts = append(parts, "section "+m.SectionReference)
	}
	if len(m.StandardsReferenced) > 0 {
		parts = append(parts, "refs "+strings.Join(m.StandardsReferenced, ", "))
	}
	return strings.Join(parts, "; ")
}

func excerpt(text string, n int) string {
	text = strings.TrimSpace(text)
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
