package chat

import (
	"context"
	"time"

	"valet/internal/domain/models/chat"
)

// TurnRepository defines data access for conversation turns.
type TurnRepository interface {
	// CreateTurn creates a new turn
	CreateTurn(ctx context.Context, turn *chat.ConversationTurn) error

	// GetTurn retrieves a turn by ID.
	// Returns domain.ErrNotFound if not found.
	GetTurn(ctx context.Context, turnID string) (*chat.ConversationTurn, error)

	// ListTurns retrieves all turns for a conversation, oldest first
	ListTurns(ctx context.Context, conversationID string) ([]chat.ConversationTurn, error)

	// DeleteTurnContent deletes a turn's assistant messages, tool calls,
	// and think blocks. The turn row and its user messages survive.
	DeleteTurnContent(ctx context.Context, turnID string) error

	// DeleteTurnsAfter deletes every turn of the conversation created
	// strictly after the given time, together with all of their messages,
	// tool calls, and think blocks.
	DeleteTurnsAfter(ctx context.Context, conversationID string, after time.Time) error
}
