package chat

import (
	"reflect"
	"testing"

	"valet/internal/domain/models/chat"
)

func strPtr(s string) *string { return &s }

func TestAssembleConsecutiveThinkThenText(t *testing.T) {
	updates := []chat.StreamUpdate{
		chat.ThinkUpdate("a"),
		chat.ThinkUpdate("b"),
		chat.TextUpdate("c"),
	}

	got := AssembleSegments(updates, true)
	want := []chat.AssistantSegment{
		chat.ThinkSegment("ab"),
		chat.TextSegment("c"),
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("AssembleSegments = %+v, want %+v", got, want)
	}
}

func TestAssembleResultMergesIntoPrecedingCall(t *testing.T) {
	updates := []chat.StreamUpdate{
		chat.ToolCallUpdate("f", strPtr("{}"), nil),
		chat.ToolCallUpdate("f", nil, strPtr("ok")),
	}

	got := AssembleSegments(updates, true)
	if len(got) != 1 {
		t.Fatalf("got %d segments, want 1", len(got))
	}
	seg := got[0]
	if !seg.IsTool() || seg.ToolName != "f" {
		t.Fatalf("segment = %+v, want tool f", seg)
	}
	if seg.Arguments == nil || *seg.Arguments != "{}" {
		t.Errorf("arguments = %v, want {}", seg.Arguments)
	}
	if seg.Result == nil || *seg.Result != "ok" {
		t.Errorf("result = %v, want ok", seg.Result)
	}
}

func TestAssembleResultOnlyWithoutPriorToolIsDropped(t *testing.T) {
	updates := []chat.StreamUpdate{
		chat.TextUpdate("hello"),
		chat.ToolCallUpdate("", nil, strPtr("orphan")),
	}

	got := AssembleSegments(updates, true)
	want := []chat.AssistantSegment{chat.TextSegment("hello")}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("AssembleSegments = %+v, want %+v", got, want)
	}
}

func TestAssembleThinkingDisabledDiscardsThink(t *testing.T) {
	updates := []chat.StreamUpdate{
		chat.ThinkUpdate("secret"),
		chat.TextUpdate("visible"),
		chat.ThinkUpdate("more"),
		chat.ToolCallUpdate("f", strPtr("{}"), nil),
		chat.ThinkUpdate("tail"),
	}

	got := AssembleSegments(updates, false)
	for _, seg := range got {
		if seg.IsThink {
			t.Fatalf("found think segment %+v with thinking disabled", seg)
		}
	}
	if len(got) != 2 {
		t.Errorf("got %d segments, want 2 (text + tool)", len(got))
	}
}

func TestAssembleThinkNeverSpansToolCall(t *testing.T) {
	updates := []chat.StreamUpdate{
		chat.ThinkUpdate("before"),
		chat.ToolCallUpdate("search", strPtr(`{"q":"x"}`), nil),
		chat.ThinkUpdate("after"),
		chat.TextUpdate("done"),
	}

	got := AssembleSegments(updates, true)
	want := []chat.AssistantSegment{
		chat.ThinkSegment("before"),
		chat.ToolSegment("search", strPtr(`{"q":"x"}`), nil),
		chat.ThinkSegment("after"),
		chat.TextSegment("done"),
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("AssembleSegments = %+v, want %+v", got, want)
	}
}

func TestAssembleEmptyToolUpdateSkipped(t *testing.T) {
	updates := []chat.StreamUpdate{
		chat.ToolCallUpdate("", nil, nil),
		chat.TextUpdate("x"),
	}

	got := AssembleSegments(updates, true)
	want := []chat.AssistantSegment{chat.TextSegment("x")}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("AssembleSegments = %+v, want %+v", got, want)
	}
}

func TestAssembleEndOfStreamFlushesThinkThenText(t *testing.T) {
	// A think run interrupted by text then resumed: the trailing think
	// buffer must flush before any trailing text buffer.
	updates := []chat.StreamUpdate{
		chat.TextUpdate("reply"),
		chat.ThinkUpdate("trailing thought"),
	}

	got := AssembleSegments(updates, true)
	want := []chat.AssistantSegment{
		chat.TextSegment("reply"),
		chat.ThinkSegment("trailing thought"),
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("AssembleSegments = %+v, want %+v", got, want)
	}
}

func TestAssembleIsIdempotent(t *testing.T) {
	updates := []chat.StreamUpdate{
		chat.ThinkUpdate("plan"),
		chat.ToolCallUpdate("read", strPtr(`{"path":"a"}`), nil),
		chat.ToolCallUpdate("", nil, strPtr("contents")),
		chat.TextUpdate("part one "),
		chat.TextUpdate("part two"),
	}

	first := AssembleSegments(updates, true)
	second := AssembleSegments(updates, true)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated assembly differs: %+v vs %+v", first, second)
	}
}

func TestAssembleChunkingInvariance(t *testing.T) {
	// Text and think runs delivered as one update or many must produce
	// the same segments as long as order is preserved.
	coarse := []chat.StreamUpdate{
		chat.ThinkUpdate("let me think"),
		chat.TextUpdate("the answer is 42"),
	}
	fine := []chat.StreamUpdate{
		chat.ThinkUpdate("let "),
		chat.ThinkUpdate("me "),
		chat.ThinkUpdate("think"),
		chat.TextUpdate("the answer"),
		chat.TextUpdate(" is 42"),
	}

	if !reflect.DeepEqual(AssembleSegments(coarse, true), AssembleSegments(fine, true)) {
		t.Errorf("chunking changed assembly output")
	}
}

func TestAssembleThinkBetweenCallAndResultBlocksMerge(t *testing.T) {
	// An intervening think segment means the result-only update no longer
	// follows a tool segment, so it is dropped.
	updates := []chat.StreamUpdate{
		chat.ToolCallUpdate("f", strPtr("{}"), nil),
		chat.ThinkUpdate("waiting"),
		chat.ToolCallUpdate("", nil, strPtr("late")),
	}

	got := AssembleSegments(updates, true)
	if len(got) != 2 {
		t.Fatalf("got %d segments, want 2", len(got))
	}
	if got[0].Result != nil {
		t.Errorf("tool segment result = %v, want nil", *got[0].Result)
	}
}
