package chat

import (
	"context"

	"valet/internal/domain/models/chat"
)

// CreateTurnRequest carries a new or edited user message into the
// orchestrator.
type CreateTurnRequest struct {
	ConversationID    string
	UserName          string
	Text              string
	UseThinking       bool
	AttachedPaths     []string
	RequestedSkillIDs []string
}

// ReplaceMessageRequest targets the live user message to edit.
type ReplaceMessageRequest struct {
	ConversationID    string
	UserName          string
	MessageID         string
	NewContent        string
	UseThinking       bool
	AttachedPaths     []string
	RequestedSkillIDs []string
}

// ReplaceMessageResult identifies the fresh turn created by an edit, with
// the effective content to re-stream against.
type ReplaceMessageResult struct {
	TurnID      string
	Content     string
	UseThinking bool
}

// RegenerateResult carries the surviving user prompt of a turn whose
// assistant content was cleared for regeneration.
type RegenerateResult struct {
	Text              string
	UseThinking       bool
	AttachedPaths     []string
	RequestedSkillIDs []string
}

// TurnOrchestrator coordinates the lifecycle of conversation turns:
// creation, streaming, completion, edit, regenerate, and compaction.
type TurnOrchestrator interface {
	// CreateTurnAndUserMessage creates one turn and its live user
	// message, generating a conversation title first when this is the
	// conversation's first message (best effort). Returns the turn ID.
	CreateTurnAndUserMessage(ctx context.Context, req *CreateTurnRequest) (string, error)

	// StreamResponseAndComplete consumes the agent's stream for the
	// turn, forwarding every update to the sink, then assembles and
	// persists the assistant content. Cancellation or stream errors are
	// returned without persisting anything, along with the updates
	// captured so far; the caller must follow up with
	// CompleteTurnWithPartialContent.
	StreamResponseAndComplete(ctx context.Context, req *CreateTurnRequest, turnID string, sink StreamSink) ([]chat.StreamUpdate, error)

	// CompleteTurnWithPartialContent persists whatever updates were
	// captured before an interruption, appending one trailing
	// error-style segment when stopNote is non-empty. When no content
	// segments were produced at all, a plain error message is recorded
	// instead.
	CompleteTurnWithPartialContent(ctx context.Context, conversationID, turnID string, updates []chat.StreamUpdate, useThinking bool, stopNote string) error

	// ReplaceUserMessage supersedes a live user message with edited
	// content: new turn + new live message, old message marked replaced,
	// the old turn's assistant content and every later turn deleted.
	// Returns nil when the message is not live or does not belong to
	// the conversation/user (expected race, not an error).
	ReplaceUserMessage(ctx context.Context, req *ReplaceMessageRequest) (*ReplaceMessageResult, error)

	// PrepareTurnForRegenerate keeps a turn and its user message but
	// deletes the turn's assistant content and every later turn.
	// Returns nil when the turn is missing.
	PrepareTurnForRegenerate(ctx context.Context, conversationID, userName, turnID string) (*RegenerateResult, error)

	// CompactConversation folds the conversation's uncompressed tail
	// into a stored summary. Single-flight per conversation: a
	// duplicate call while one is in flight returns false immediately.
	// Summarization failures also return false, never an error.
	CompactConversation(ctx context.Context, conversationID string) bool
}
