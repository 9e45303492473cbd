package chat

import (
	"valet/internal/domain/models/chat"
)

// SegmentTurnTimeline partitions a turn's timeline into alternating think
// and reply display blocks. A think range starts at the first ThinkBlock
// item and extends until (but not including) the next assistant message
// with non-empty content; if no such message follows, the range runs to
// the end of the turn. Outside thinking mode the whole timeline is one
// reply block - reasoning grouping is a thinking-mode-only display policy.
func SegmentTurnTimeline(items []chat.TimelineItem, isThinkingMode bool) []chat.DisplayBlock {
	if len(items) == 0 {
		return nil
	}

	if !isThinkingMode {
		return []chat.DisplayBlock{{Items: items}}
	}

	var blocks []chat.DisplayBlock
	var current chat.DisplayBlock

	closeCurrent := func() {
		if len(current.Items) > 0 {
			blocks = append(blocks, current)
		}
	}

	for _, item := range items {
		if current.IsThink {
			if isAssistantText(item) {
				closeCurrent()
				current = chat.DisplayBlock{Items: []chat.TimelineItem{item}}
				continue
			}
			current.Items = append(current.Items, item)
			continue
		}

		if item.ThinkBlock != nil {
			closeCurrent()
			current = chat.DisplayBlock{IsThink: true, Items: []chat.TimelineItem{item}}
			continue
		}
		current.Items = append(current.Items, item)
	}
	closeCurrent()

	return blocks
}

// SegmentRawMessages is the fallback grouping used when a conversation has
// no turn rows: each user message starts a new bucket, everything else
// accumulates into the current one.
func SegmentRawMessages(items []chat.TimelineItem) []chat.DisplayBlock {
	if len(items) == 0 {
		return nil
	}

	var blocks []chat.DisplayBlock
	var current chat.DisplayBlock

	for _, item := range items {
		if item.Message != nil && item.Message.Role == chat.RoleUser && len(current.Items) > 0 {
			blocks = append(blocks, current)
			current = chat.DisplayBlock{}
		}
		current.Items = append(current.Items, item)
	}
	if len(current.Items) > 0 {
		blocks = append(blocks, current)
	}

	return blocks
}

// isAssistantText reports whether the item is an assistant message with
// non-empty content - the terminator of a think range.
func isAssistantText(item chat.TimelineItem) bool {
	return item.Message != nil &&
		item.Message.Role == chat.RoleAssistant &&
		item.Message.Content != ""
}
