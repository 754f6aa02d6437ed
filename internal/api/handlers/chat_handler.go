package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/models"
	"github.com/markdave123-py/ragready/internal/services"
)

// Chatter is satisfied by *services.ChatService.
type Chatter interface {
	Chat(ctx context.Context, req services.ChatRequest) (*services.ChatResponse, error)
	History(ctx context.Context, tenantID, conversationID string) ([]models.Message, error)
}

type ChatHandler struct {
	chat Chatter
	log  *logger.Logger
}

func NewChatHandler(chat Chatter, log *logger.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, log: log}
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
	TopK           int    `json:"top_k"`
}

// Chat handles POST /api/datasets/{datasetID}/chat.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.log, err)
		return
	}

	resp, err := h.chat.Chat(r.Context(), services.ChatRequest{
		TenantID:       tenantID,
		DatasetID:      chi.URLParam(r, "datasetID"),
		Message:        req.Message,
		ConversationID: req.ConversationID,
		TopK:           req.TopK,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Messages handles GET /api/conversations/{conversationID}/messages.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}
	msgs, err := h.chat.History(r.Context(), tenantID, chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}
