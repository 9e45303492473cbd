package chat

import (
	"context"
	"time"

	"valet/internal/domain/models/chat"
)

// ConversationRepository defines data access for conversations.
type ConversationRepository interface {
	// CreateConversation creates a new conversation
	CreateConversation(ctx context.Context, conversation *chat.Conversation) error

	// GetConversation retrieves a conversation by ID.
	// Returns domain.ErrNotFound if not found.
	GetConversation(ctx context.Context, conversationID string) (*chat.Conversation, error)

	// ListConversations retrieves all conversations for a user, newest first
	ListConversations(ctx context.Context, userName string) ([]chat.Conversation, error)

	// UpdateConversationTitle sets the conversation title
	UpdateConversationTitle(ctx context.Context, conversationID, title string) error

	// UpdateCompression stores the compressed context summary and the
	// timestamp up to which messages are covered by it
	UpdateCompression(ctx context.Context, conversationID, summary string, compressedAt time.Time) error
}
