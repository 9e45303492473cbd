package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"valet/internal/domain"
	chatModels "valet/internal/domain/models/chat"
	"valet/internal/domain/repositories"
	chatRepo "valet/internal/domain/repositories/chat"
	chatSvc "valet/internal/domain/services/chat"
	"valet/internal/flowctx"
)

// Orchestrator implements the TurnOrchestrator interface.
//
// Responsibilities:
//   - Create turns and live user messages (with best-effort titling)
//   - Consume the agent's update stream and persist assembled segments
//   - Edit (replace) and regenerate flows with turn-cascading deletes
//   - Single-flight conversation compaction
//
// Thread-safety: methods are safe for concurrent use across conversations.
// Concurrent turns within one conversation are not coordinated here; the
// compaction set is the only per-conversation guard.
type Orchestrator struct {
	conversations chatRepo.ConversationRepository
	turns         chatRepo.TurnRepository
	timeline      chatRepo.TimelineRepository
	runner        chatSvc.AgentRunner
	summarizer    chatSvc.Summarizer
	window        *ContextWindow
	txManager     repositories.TransactionManager
	events        chatSvc.CompactionEvents
	maxTokens     int
	logger        *slog.Logger

	// Conversations with a compaction in flight
	compactingMu sync.Mutex
	compacting   map[string]struct{}
}

// NewOrchestrator creates a turn orchestrator. A nil events sink is replaced
// with a no-op implementation.
func NewOrchestrator(
	conversations chatRepo.ConversationRepository,
	turns chatRepo.TurnRepository,
	timeline chatRepo.TimelineRepository,
	runner chatSvc.AgentRunner,
	summarizer chatSvc.Summarizer,
	window *ContextWindow,
	txManager repositories.TransactionManager,
	events chatSvc.CompactionEvents,
	maxTokens int,
	logger *slog.Logger,
) *Orchestrator {
	if events == nil {
		events = chatSvc.NopCompactionEvents{}
	}
	return &Orchestrator{
		conversations: conversations,
		turns:         turns,
		timeline:      timeline,
		runner:        runner,
		summarizer:    summarizer,
		window:        window,
		txManager:     txManager,
		events:        events,
		maxTokens:     maxTokens,
		logger:        logger,
		compacting:    make(map[string]struct{}),
	}
}

// CreateTurnAndUserMessage creates one turn and its live user message.
// When this is the conversation's first message, a title is requested from
// the agent first; titling failures are logged and otherwise ignored.
func (o *Orchestrator) CreateTurnAndUserMessage(ctx context.Context, req *chatSvc.CreateTurnRequest) (string, error) {
	if err := validateCreateTurnRequest(req); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	conversation, err := o.conversations.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return "", err
	}
	if conversation.UserName != req.UserName {
		return "", fmt.Errorf("conversation %s: %w", req.ConversationID, domain.ErrNotFound)
	}

	existing, err := o.timeline.ListLiveMessages(ctx, req.ConversationID)
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}
	if len(existing) == 0 {
		o.generateTitle(ctx, req.ConversationID, req.Text)
	}

	now := time.Now().UTC()
	turn := &chatModels.ConversationTurn{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		IsThinkingMode: req.UseThinking,
		CreatedAt:      now,
	}
	message := &chatModels.ChatMessage{
		ID:                uuid.NewString(),
		ConversationID:    req.ConversationID,
		TurnID:            turn.ID,
		Role:              chatModels.RoleUser,
		Content:           req.Text,
		CreatedAt:         now,
		AttachedPaths:     req.AttachedPaths,
		RequestedSkillIDs: req.RequestedSkillIDs,
	}

	err = o.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		if err := o.turns.CreateTurn(txCtx, turn); err != nil {
			return fmt.Errorf("create turn: %w", err)
		}
		if err := o.timeline.CreateMessage(txCtx, message); err != nil {
			return fmt.Errorf("create user message: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return turn.ID, nil
}

// StreamResponseAndComplete consumes the agent's stream for the turn and
// persists the assembled assistant content when the stream ends cleanly.
// The captured updates are returned in both the success and failure cases
// so the caller can drive the partial-completion path after interruption.
func (o *Orchestrator) StreamResponseAndComplete(
	ctx context.Context,
	req *chatSvc.CreateTurnRequest,
	turnID string,
	sink chatSvc.StreamSink,
) ([]chatModels.StreamUpdate, error) {
	if sink == nil {
		sink = chatSvc.NopSink{}
	}

	// Downstream tools read these to know which conversation and
	// confirmation surface they belong to.
	ctx = flowctx.WithConversation(ctx, req.ConversationID)
	ctx = flowctx.WithConfirmation(ctx, req.ConversationID)

	runReq := &chatSvc.RunRequest{
		ConversationID:    req.ConversationID,
		Text:              req.Text,
		UseThinking:       req.UseThinking,
		AttachedPaths:     req.AttachedPaths,
		RequestedSkillIDs: req.RequestedSkillIDs,
	}
	if err := o.populateHistory(ctx, runReq); err != nil {
		return nil, err
	}

	stream, err := o.runner.RunStreaming(ctx, runReq)
	if err != nil {
		return nil, fmt.Errorf("start agent stream: %w", err)
	}

	var updates []chatModels.StreamUpdate
	for {
		select {
		case <-ctx.Done():
			return updates, ctx.Err()
		case event, ok := <-stream:
			if !ok {
				segments := AssembleSegments(updates, req.UseThinking)
				if err := o.timeline.CreateAssistantContent(ctx, req.ConversationID, turnID, segments, time.Now().UTC()); err != nil {
					return updates, fmt.Errorf("persist assistant content: %w", err)
				}
				return updates, nil
			}
			if event.Err != nil {
				return updates, event.Err
			}
			if event.Update != nil {
				sink.OnNext(*event.Update)
				updates = append(updates, *event.Update)
			}
		}
	}
}

// CompleteTurnWithPartialContent persists whatever updates were captured
// before an interruption. A non-empty stopNote appends one trailing
// error-style text segment; when nothing at all was produced, a plain error
// message is recorded so the turn is never left dangling.
func (o *Orchestrator) CompleteTurnWithPartialContent(
	ctx context.Context,
	conversationID, turnID string,
	updates []chatModels.StreamUpdate,
	useThinking bool,
	stopNote string,
) error {
	segments := AssembleSegments(updates, useThinking)
	if stopNote != "" {
		segments = append(segments, chatModels.TextSegment("Error: "+stopNote))
	}
	if len(segments) == 0 {
		segments = []chatModels.AssistantSegment{chatModels.TextSegment("Error: response interrupted")}
	}

	if err := o.timeline.CreateAssistantContent(ctx, conversationID, turnID, segments, time.Now().UTC()); err != nil {
		return fmt.Errorf("persist partial content: %w", err)
	}
	return nil
}

// ReplaceUserMessage supersedes a live user message with edited content.
// The original message is kept and marked replaced; the original turn loses
// its assistant content and every later turn is deleted outright. Returns
// nil without error when the target is missing, already replaced, or does
// not belong to the conversation/user - expected races like double-submit
// are not failures.
func (o *Orchestrator) ReplaceUserMessage(ctx context.Context, req *chatSvc.ReplaceMessageRequest) (*chatSvc.ReplaceMessageResult, error) {
	message, err := o.timeline.GetMessage(ctx, req.MessageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if message.ConversationID != req.ConversationID ||
		message.Role != chatModels.RoleUser ||
		!message.IsLive() {
		return nil, nil
	}

	conversation, err := o.conversations.GetConversation(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if conversation.UserName != req.UserName {
		return nil, nil
	}

	originTurn, err := o.turns.GetTurn(ctx, message.TurnID)
	if err != nil {
		return nil, fmt.Errorf("get turn for message %s: %w", req.MessageID, err)
	}

	now := time.Now().UTC()
	newTurn := &chatModels.ConversationTurn{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		IsThinkingMode: req.UseThinking,
		CreatedAt:      now,
	}
	newMessage := &chatModels.ChatMessage{
		ID:                uuid.NewString(),
		ConversationID:    req.ConversationID,
		TurnID:            newTurn.ID,
		Role:              chatModels.RoleUser,
		Content:           req.NewContent,
		CreatedAt:         now,
		IsEdited:          true,
		AttachedPaths:     req.AttachedPaths,
		RequestedSkillIDs: req.RequestedSkillIDs,
	}

	err = o.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		// Later turns go first: the replacement turn is created after
		// the cutoff and must survive the cascade.
		if err := o.turns.DeleteTurnsAfter(txCtx, req.ConversationID, originTurn.CreatedAt); err != nil {
			return fmt.Errorf("delete later turns: %w", err)
		}
		if err := o.turns.DeleteTurnContent(txCtx, originTurn.ID); err != nil {
			return fmt.Errorf("delete turn content: %w", err)
		}
		if err := o.turns.CreateTurn(txCtx, newTurn); err != nil {
			return fmt.Errorf("create replacement turn: %w", err)
		}
		if err := o.timeline.CreateMessage(txCtx, newMessage); err != nil {
			return fmt.Errorf("create replacement message: %w", err)
		}
		if err := o.timeline.MarkMessageReplaced(txCtx, message.ID, newMessage.ID); err != nil {
			return fmt.Errorf("mark message replaced: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &chatSvc.ReplaceMessageResult{
		TurnID:      newTurn.ID,
		Content:     req.NewContent,
		UseThinking: req.UseThinking,
	}, nil
}

// PrepareTurnForRegenerate clears a turn's assistant content and deletes
// every later turn, keeping the turn and its live user message for
// re-streaming. Returns nil without error when the turn or its live user
// message is gone.
func (o *Orchestrator) PrepareTurnForRegenerate(ctx context.Context, conversationID, userName, turnID string) (*chatSvc.RegenerateResult, error) {
	turn, err := o.turns.GetTurn(ctx, turnID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if turn.ConversationID != conversationID {
		return nil, nil
	}

	conversation, err := o.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if conversation.UserName != userName {
		return nil, nil
	}

	userMessage, err := o.timeline.GetLiveUserMessage(ctx, turnID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	err = o.txManager.ExecTx(ctx, func(txCtx context.Context) error {
		if err := o.turns.DeleteTurnsAfter(txCtx, conversationID, turn.CreatedAt); err != nil {
			return fmt.Errorf("delete later turns: %w", err)
		}
		if err := o.turns.DeleteTurnContent(txCtx, turnID); err != nil {
			return fmt.Errorf("delete turn content: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &chatSvc.RegenerateResult{
		Text:              userMessage.Content,
		UseThinking:       turn.IsThinkingMode,
		AttachedPaths:     userMessage.AttachedPaths,
		RequestedSkillIDs: userMessage.RequestedSkillIDs,
	}, nil
}

// generateTitle asks the agent for a short conversation title. Best effort:
// failures are logged and the title is simply not set.
func (o *Orchestrator) generateTitle(ctx context.Context, conversationID, firstMessage string) {
	title, err := o.runner.GenerateTitle(ctx, firstMessage)
	if err != nil {
		o.logger.Warn("title generation failed", "conversation_id", conversationID, "error", err)
		return
	}
	if title == "" {
		return
	}
	if err := o.conversations.UpdateConversationTitle(ctx, conversationID, title); err != nil {
		o.logger.Warn("title update failed", "conversation_id", conversationID, "error", err)
	}
}

// populateHistory loads the conversation's compressed summary and its live
// uncompressed messages, trimmed to the token budget.
func (o *Orchestrator) populateHistory(ctx context.Context, req *chatSvc.RunRequest) error {
	conversation, err := o.conversations.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	if conversation.CompressedContext != nil {
		req.Summary = *conversation.CompressedContext
	}

	messages, err := o.timeline.ListLiveMessagesSince(ctx, req.ConversationID, conversation.CompressedAt)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	trimmed, dropped := o.window.TrimToFit(messages, o.maxTokens)
	if dropped > 0 {
		o.logger.Debug("history trimmed to token budget",
			"conversation_id", req.ConversationID,
			"dropped", dropped,
			"kept", len(trimmed),
		)
	}
	req.History = trimmed
	return nil
}

func validateCreateTurnRequest(req *chatSvc.CreateTurnRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.ConversationID, validation.Required),
		validation.Field(&req.UserName, validation.Required),
		validation.Field(&req.Text, validation.Required),
	)
}
