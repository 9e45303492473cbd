package chat

import (
	"time"
)

// ToolCall is one tool invocation within a turn. The row is created when the
// call is issued; Result may be attached to the same row later (two-phase:
// call, then result) rather than creating a second row. SortOrder is per-turn
// monotonic starting at 0.
type ToolCall struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	TurnID         string    `json:"turn_id" db:"turn_id"`
	ToolName       string    `json:"tool_name" db:"tool_name"`
	Arguments      *string   `json:"arguments,omitempty" db:"arguments"`
	Result         *string   `json:"result,omitempty" db:"result"`
	SortOrder      int       `json:"sort_order" db:"sort_order"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
