package chat

import (
	"time"
)

// ThinkBlock is a run of reasoning text within a turn, distinct from the
// assistant's reply text. SortOrder is per-turn monotonic starting at 0.
type ThinkBlock struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	TurnID         string    `json:"turn_id" db:"turn_id"`
	Content        string    `json:"content" db:"content"`
	SortOrder      int       `json:"sort_order" db:"sort_order"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
