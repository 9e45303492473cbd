package chat

import (
	"time"
)

// ConversationTurn is one user prompt plus the agent's full reply (text,
// reasoning, tool calls) as a unit. Turns are never mutated: an edit or
// regenerate of an earlier message deletes superseded turns and creates a
// fresh one.
type ConversationTurn struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	IsThinkingMode bool      `json:"is_thinking_mode" db:"is_thinking_mode"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
