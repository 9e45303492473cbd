package chat

import (
	"sort"
	"time"
)

// TimelineItem is one entry in a conversation's timeline: exactly one of
// Message, ToolCall, or ThinkBlock is non-nil.
type TimelineItem struct {
	Message    *ChatMessage `json:"message,omitempty"`
	ToolCall   *ToolCall    `json:"tool_call,omitempty"`
	ThinkBlock *ThinkBlock  `json:"think_block,omitempty"`
}

// CreatedAt returns the creation time of whichever row this item wraps.
func (it TimelineItem) CreatedAt() time.Time {
	switch {
	case it.Message != nil:
		return it.Message.CreatedAt
	case it.ToolCall != nil:
		return it.ToolCall.CreatedAt
	case it.ThinkBlock != nil:
		return it.ThinkBlock.CreatedAt
	}
	return time.Time{}
}

// SortTimeline orders items by creation time, oldest first. Rows persisted in
// one assistant-completion batch carry strictly increasing synthetic
// timestamps, so a stable sort on CreatedAt reproduces emission order.
func SortTimeline(items []TimelineItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt().Before(items[j].CreatedAt())
	})
}

// DisplayBlock is one read-path display unit: either a reasoning range (think
// blocks plus the tool calls inside them) or a reply range.
type DisplayBlock struct {
	IsThink bool           `json:"is_think"`
	Items   []TimelineItem `json:"items"`
}
