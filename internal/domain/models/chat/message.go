package chat

import (
	"time"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one persisted message row. User messages form a linear edit
// chain via ReplacedByMessageID: an edited message is never deleted, a new row
// is created and the old row points at it. Only the row with a nil
// ReplacedByMessageID is "live". Assistant messages are one row per flushed
// text segment.
type ChatMessage struct {
	ID                  string    `json:"id" db:"id"`
	ConversationID      string    `json:"conversation_id" db:"conversation_id"`
	TurnID              string    `json:"turn_id" db:"turn_id"`
	Role                string    `json:"role" db:"role"`
	Content             string    `json:"content" db:"content"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	ReplacedByMessageID *string   `json:"replaced_by_message_id,omitempty" db:"replaced_by_message_id"`
	IsEdited            bool      `json:"is_edited" db:"is_edited"`
	AttachedPaths       []string  `json:"attached_paths,omitempty" db:"attached_paths"`
	RequestedSkillIDs   []string  `json:"requested_skill_ids,omitempty" db:"requested_skill_ids"`
}

// IsLive reports whether this user message is the current (non-replaced) one.
func (m *ChatMessage) IsLive() bool {
	return m.ReplacedByMessageID == nil
}
