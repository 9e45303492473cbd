package chat

import (
	"testing"
	"time"

	"valet/internal/domain/models/chat"
)

func thinkItem(content string) chat.TimelineItem {
	return chat.TimelineItem{ThinkBlock: &chat.ThinkBlock{Content: content}}
}

func toolItem(name string) chat.TimelineItem {
	return chat.TimelineItem{ToolCall: &chat.ToolCall{ToolName: name}}
}

func messageItem(role, content string) chat.TimelineItem {
	return chat.TimelineItem{Message: &chat.ChatMessage{Role: role, Content: content}}
}

func TestSegmentThinkRangeEndsAtAssistantText(t *testing.T) {
	items := []chat.TimelineItem{
		thinkItem("a"),
		thinkItem("b"),
		toolItem("search"),
		messageItem(chat.RoleAssistant, "answer"),
	}

	blocks := SegmentTurnTimeline(items, true)
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if !blocks[0].IsThink || len(blocks[0].Items) != 3 {
		t.Errorf("first block = %+v, want think block of 3 items", blocks[0])
	}
	if blocks[1].IsThink || len(blocks[1].Items) != 1 {
		t.Errorf("second block = %+v, want reply block of 1 item", blocks[1])
	}
}

func TestSegmentThinkRangeRunsToEndWithoutTerminator(t *testing.T) {
	items := []chat.TimelineItem{
		messageItem(chat.RoleUser, "question"),
		thinkItem("pondering"),
		toolItem("shell"),
	}

	blocks := SegmentTurnTimeline(items, true)
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(blocks))
	}
	if blocks[0].IsThink {
		t.Errorf("first block should be the user reply block")
	}
	if !blocks[1].IsThink || len(blocks[1].Items) != 2 {
		t.Errorf("second block = %+v, want think block of 2 items", blocks[1])
	}
}

func TestSegmentEmptyAssistantTextDoesNotTerminate(t *testing.T) {
	items := []chat.TimelineItem{
		thinkItem("a"),
		messageItem(chat.RoleAssistant, ""),
		thinkItem("b"),
	}

	blocks := SegmentTurnTimeline(items, true)
	if len(blocks) != 1 || !blocks[0].IsThink || len(blocks[0].Items) != 3 {
		t.Errorf("blocks = %+v, want one think block of 3 items", blocks)
	}
}

func TestSegmentThinkingModeOffIsSingleReplyBlock(t *testing.T) {
	items := []chat.TimelineItem{
		thinkItem("a"),
		toolItem("search"),
		messageItem(chat.RoleAssistant, "answer"),
	}

	blocks := SegmentTurnTimeline(items, false)
	if len(blocks) != 1 || blocks[0].IsThink || len(blocks[0].Items) != 3 {
		t.Errorf("blocks = %+v, want one reply block of 3 items", blocks)
	}
}

func TestSegmentEmptyTimeline(t *testing.T) {
	if blocks := SegmentTurnTimeline(nil, true); blocks != nil {
		t.Errorf("blocks = %+v, want nil", blocks)
	}
}

func TestSegmentRawMessagesBucketsOnUserMessages(t *testing.T) {
	items := []chat.TimelineItem{
		messageItem(chat.RoleUser, "first"),
		messageItem(chat.RoleAssistant, "reply one"),
		toolItem("search"),
		messageItem(chat.RoleUser, "second"),
		thinkItem("note"),
		messageItem(chat.RoleAssistant, "reply two"),
	}

	blocks := SegmentRawMessages(items)
	if len(blocks) != 2 {
		t.Fatalf("got %d buckets, want 2", len(blocks))
	}
	if len(blocks[0].Items) != 3 {
		t.Errorf("first bucket has %d items, want 3", len(blocks[0].Items))
	}
	if len(blocks[1].Items) != 3 {
		t.Errorf("second bucket has %d items, want 3", len(blocks[1].Items))
	}
}

func TestSortTimelineUsesSyntheticTimestamps(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	items := []chat.TimelineItem{
		{Message: &chat.ChatMessage{Content: "third", CreatedAt: base.Add(2 * time.Millisecond)}},
		{ThinkBlock: &chat.ThinkBlock{Content: "first", CreatedAt: base}},
		{ToolCall: &chat.ToolCall{ToolName: "second", CreatedAt: base.Add(time.Millisecond)}},
	}

	chat.SortTimeline(items)

	if items[0].ThinkBlock == nil || items[1].ToolCall == nil || items[2].Message == nil {
		t.Errorf("timeline not ordered by synthetic timestamps: %+v", items)
	}
}
