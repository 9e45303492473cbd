package handler

import (
	"log/slog"
	"net/http"

	"valet/internal/httputil"
	chatService "valet/internal/service/chat"
)

// ConversationHandler handles conversation HTTP requests.
// Handlers only talk to services, never repositories.
type ConversationHandler struct {
	conversations *chatService.ConversationService
	timeline      *chatService.TimelineService
	orchestrator  *chatService.Orchestrator
	logger        *slog.Logger
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(
	conversations *chatService.ConversationService,
	timeline *chatService.TimelineService,
	orchestrator *chatService.Orchestrator,
	logger *slog.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		timeline:      timeline,
		orchestrator:  orchestrator,
		logger:        logger,
	}
}

// CreateConversation creates an empty conversation
// POST /api/conversations
func (h *ConversationHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	userName := httputil.GetUserName(r)

	conversation, err := h.conversations.CreateConversation(r.Context(), userName)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, conversation)
}

// ListConversations retrieves the user's conversations, newest first
// GET /api/conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userName := httputil.GetUserName(r)

	conversations, err := h.conversations.ListConversations(r.Context(), userName)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, conversations)
}

// GetConversation retrieves a single conversation
// GET /api/conversations/{id}
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if conversationID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "conversation ID is required")
		return
	}

	userName := httputil.GetUserName(r)
	conversation, err := h.conversations.GetConversation(r.Context(), conversationID, userName)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, conversation)
}

// GetTimeline retrieves the conversation's display blocks in order
// GET /api/conversations/{id}/timeline
func (h *ConversationHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if conversationID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "conversation ID is required")
		return
	}

	userName := httputil.GetUserName(r)
	if _, err := h.conversations.GetConversation(r.Context(), conversationID, userName); err != nil {
		handleError(w, err)
		return
	}

	blocks, err := h.timeline.BuildDisplayBlocks(r.Context(), conversationID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, blocks)
}

// Compact folds the conversation's uncompressed history into a summary
// POST /api/conversations/{id}/compact
func (h *ConversationHandler) Compact(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if conversationID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "conversation ID is required")
		return
	}

	userName := httputil.GetUserName(r)
	if _, err := h.conversations.GetConversation(r.Context(), conversationID, userName); err != nil {
		handleError(w, err)
		return
	}

	compacted := h.orchestrator.CompactConversation(r.Context(), conversationID)
	httputil.RespondJSON(w, http.StatusOK, map[string]bool{"compacted": compacted})
}
