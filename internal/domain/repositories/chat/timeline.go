package chat

import (
	"context"
	"time"

	"valet/internal/domain/models/chat"
)

// TimelineRepository defines data access for the rows that make up a
// conversation's timeline: messages, tool calls, and think blocks.
type TimelineRepository interface {
	// CreateMessage creates a single message row
	CreateMessage(ctx context.Context, message *chat.ChatMessage) error

	// GetMessage retrieves a message by ID.
	// Returns domain.ErrNotFound if not found.
	GetMessage(ctx context.Context, messageID string) (*chat.ChatMessage, error)

	// GetLiveUserMessage retrieves the turn's live (non-replaced) user
	// message. Returns domain.ErrNotFound if the turn has none.
	GetLiveUserMessage(ctx context.Context, turnID string) (*chat.ChatMessage, error)

	// MarkMessageReplaced sets the replaced-by pointer on a user message,
	// extending its edit chain
	MarkMessageReplaced(ctx context.Context, messageID, replacedByMessageID string) error

	// ListLiveMessages retrieves the conversation's live messages (user
	// messages without a replaced-by pointer, plus all assistant
	// messages), oldest first
	ListLiveMessages(ctx context.Context, conversationID string) ([]chat.ChatMessage, error)

	// ListLiveMessagesSince retrieves live messages created strictly
	// after the given time, oldest first. A nil since returns everything.
	ListLiveMessagesSince(ctx context.Context, conversationID string, since *time.Time) ([]chat.ChatMessage, error)

	// CreateAssistantContent persists one assistant-completion batch for a
	// turn. Every row gets createdAt = base + i*1ms in segment order so
	// that timeline sorting reproduces emission order even at coarse
	// clock resolution. Tool calls and think blocks get per-kind
	// monotonic sort orders starting at 0.
	CreateAssistantContent(ctx context.Context, conversationID, turnID string, segments []chat.AssistantSegment, base time.Time) error

	// GetTurnTimeline retrieves a turn's messages, tool calls, and think
	// blocks as one timeline, ordered by creation time
	GetTurnTimeline(ctx context.Context, turnID string) ([]chat.TimelineItem, error)

	// GetConversationTimeline retrieves the whole conversation's timeline
	// (live messages only), ordered by creation time
	GetConversationTimeline(ctx context.Context, conversationID string) ([]chat.TimelineItem, error)
}
