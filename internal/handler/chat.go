package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	chatModels "valet/internal/domain/models/chat"
	chatSvc "valet/internal/domain/services/chat"
	"valet/internal/handler/sse"
	"valet/internal/httputil"
	chatService "valet/internal/service/chat"
)

// ChatHandler handles the streaming turn endpoints: send, edit, and
// regenerate. Each endpoint runs one model turn and streams its updates to
// the client as Server-Sent Events.
type ChatHandler struct {
	orchestrator *chatService.Orchestrator
	sseConfig    *sse.Config
	logger       *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(orchestrator *chatService.Orchestrator, sseConfig *sse.Config, logger *slog.Logger) *ChatHandler {
	if sseConfig == nil {
		sseConfig = sse.DefaultConfig()
	}
	return &ChatHandler{
		orchestrator: orchestrator,
		sseConfig:    sseConfig,
		logger:       logger,
	}
}

// sendMessageRequest is the body for send and edit requests.
type sendMessageRequest struct {
	Text              string   `json:"text"`
	UseThinking       bool     `json:"use_thinking"`
	AttachedPaths     []string `json:"attached_paths"`
	RequestedSkillIDs []string `json:"requested_skill_ids"`
}

// SendMessage creates a turn for a new user message and streams the reply
// POST /api/conversations/{id}/messages
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if conversationID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "conversation ID is required")
		return
	}

	var body sendMessageRequest
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := &chatSvc.CreateTurnRequest{
		ConversationID:    conversationID,
		UserName:          httputil.GetUserName(r),
		Text:              body.Text,
		UseThinking:       body.UseThinking,
		AttachedPaths:     body.AttachedPaths,
		RequestedSkillIDs: body.RequestedSkillIDs,
	}

	turnID, err := h.orchestrator.CreateTurnAndUserMessage(r.Context(), req)
	if err != nil {
		handleError(w, err)
		return
	}

	h.streamTurn(w, r, req, turnID)
}

// EditMessage replaces a live user message and streams the new reply
// POST /api/conversations/{id}/messages/{messageID}/edit
func (h *ChatHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	messageID := r.PathValue("messageID")
	if conversationID == "" || messageID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "conversation and message IDs are required")
		return
	}

	var body sendMessageRequest
	if err := httputil.ParseJSON(w, r, &body); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userName := httputil.GetUserName(r)
	result, err := h.orchestrator.ReplaceUserMessage(r.Context(), &chatSvc.ReplaceMessageRequest{
		ConversationID:    conversationID,
		UserName:          userName,
		MessageID:         messageID,
		NewContent:        body.Text,
		UseThinking:       body.UseThinking,
		AttachedPaths:     body.AttachedPaths,
		RequestedSkillIDs: body.RequestedSkillIDs,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	if result == nil {
		// Already replaced or not this user's message; an expected race.
		httputil.RespondError(w, http.StatusConflict, "message is not editable")
		return
	}

	req := &chatSvc.CreateTurnRequest{
		ConversationID:    conversationID,
		UserName:          userName,
		Text:              result.Content,
		UseThinking:       result.UseThinking,
		AttachedPaths:     body.AttachedPaths,
		RequestedSkillIDs: body.RequestedSkillIDs,
	}
	h.streamTurn(w, r, req, result.TurnID)
}

// RegenerateTurn clears a turn's assistant content and streams a new reply
// POST /api/conversations/{id}/turns/{turnID}/regenerate
func (h *ChatHandler) RegenerateTurn(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	turnID := r.PathValue("turnID")
	if conversationID == "" || turnID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "conversation and turn IDs are required")
		return
	}

	userName := httputil.GetUserName(r)
	result, err := h.orchestrator.PrepareTurnForRegenerate(r.Context(), conversationID, userName, turnID)
	if err != nil {
		handleError(w, err)
		return
	}
	if result == nil {
		httputil.RespondError(w, http.StatusNotFound, "turn not found")
		return
	}

	req := &chatSvc.CreateTurnRequest{
		ConversationID:    conversationID,
		UserName:          userName,
		Text:              result.Text,
		UseThinking:       result.UseThinking,
		AttachedPaths:     result.AttachedPaths,
		RequestedSkillIDs: result.RequestedSkillIDs,
	}
	h.streamTurn(w, r, req, turnID)
}

// streamTurn runs the model turn and streams its updates over SSE. The
// request context is the cancellation signal: a dropped client interrupts
// the stream and the partial content is persisted with a background context.
func (h *ChatHandler) streamTurn(w http.ResponseWriter, r *http.Request, req *chatSvc.CreateTurnRequest, turnID string) {
	writer, err := sse.NewEventWriter(w)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	locked := &lockedEventWriter{writer: writer}

	if err := locked.WriteEvent("turn", map[string]string{"turn_id": turnID}); err != nil {
		h.logger.Info("client gone before stream start", "turn_id", turnID, "error", err)
		return
	}

	keepAlive := sse.NewTickerKeepAlive(h.sseConfig.KeepAliveInterval)
	keepAlive.Start(locked, h.logger)
	defer keepAlive.Stop()

	sink := sinkFunc(func(update chatModels.StreamUpdate) {
		if err := locked.WriteEvent("update", update); err != nil {
			h.logger.Debug("update write failed", "turn_id", turnID, "error", err)
		}
	})

	updates, err := h.orchestrator.StreamResponseAndComplete(r.Context(), req, turnID, sink)
	if err != nil {
		h.logger.Warn("stream interrupted",
			"turn_id", turnID,
			"conversation_id", req.ConversationID,
			"error", err,
		)

		stopNote := err.Error()
		if errors.Is(err, context.Canceled) {
			stopNote = "response interrupted"
		}

		// The request context may already be dead; persistence must not be.
		persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.orchestrator.CompleteTurnWithPartialContent(persistCtx, req.ConversationID, turnID, updates, req.UseThinking, stopNote); err != nil {
			h.logger.Error("partial completion failed", "turn_id", turnID, "error", err)
		}

		locked.WriteEvent("error", map[string]string{"detail": stopNote})
		return
	}

	if err := locked.WriteEvent("done", map[string]string{"turn_id": turnID}); err != nil {
		h.logger.Debug("done write failed", "turn_id", turnID, "error", err)
	}
}

// sinkFunc adapts a function to the StreamSink interface.
type sinkFunc func(chatModels.StreamUpdate)

func (f sinkFunc) OnNext(update chatModels.StreamUpdate) { f(update) }

// lockedEventWriter serializes SSE writes between the update stream and the
// keep-alive ticker.
type lockedEventWriter struct {
	mu     sync.Mutex
	writer *sse.EventWriter
}

func (l *lockedEventWriter) WriteEvent(name string, data any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.WriteEvent(name, data)
}

func (l *lockedEventWriter) WriteKeepAlive() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.WriteKeepAlive()
}
