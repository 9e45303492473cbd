package chat

import (
	"time"
)

// Conversation is a chat session between the user and the assistant.
// CompressedContext/CompressedAt mark that messages created at or before
// CompressedAt have been folded into the stored summary.
type Conversation struct {
	ID                string     `json:"id" db:"id"`
	UserName          string     `json:"user_name" db:"user_name"`
	Title             string     `json:"title" db:"title"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	CompressedAt      *time.Time `json:"compressed_at,omitempty" db:"compressed_at"`
	CompressedContext *string    `json:"compressed_context,omitempty" db:"compressed_context"`
}
