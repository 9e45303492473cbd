package handler

import (
	"log/slog"
	"net/http"

	"valet/internal/httputil"
	chatService "valet/internal/service/chat"
	"valet/internal/tasklist"
)

// TaskHandler exposes read access to the agent's per-conversation task
// lists. The lists themselves are written by the agent's tools.
type TaskHandler struct {
	tasks         *tasklist.Service
	conversations *chatService.ConversationService
	logger        *slog.Logger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(tasks *tasklist.Service, conversations *chatService.ConversationService, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		tasks:         tasks,
		conversations: conversations,
		logger:        logger,
	}
}

// ListTasks retrieves the conversation's task list
// GET /api/conversations/{id}/tasks
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
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

	list, err := h.tasks.List(r.Context(), conversationID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, list)
}

// ClearTasks drops the conversation's task list
// DELETE /api/conversations/{id}/tasks
func (h *TaskHandler) ClearTasks(w http.ResponseWriter, r *http.Request) {
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

	if err := h.tasks.Clear(r.Context(), conversationID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
