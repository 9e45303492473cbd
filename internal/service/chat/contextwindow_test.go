package chat

import (
	"strings"
	"testing"

	chatModels "valet/internal/domain/models/chat"
)

// wordTokenizer counts whitespace-separated words, making test budgets easy
// to reason about.
type wordTokenizer struct{}

func (wordTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

func msg(content string) chatModels.ChatMessage {
	return chatModels.ChatMessage{Content: content}
}

func TestEstimateTokensEmptyHistory(t *testing.T) {
	cw := NewContextWindow(wordTokenizer{})
	if got := cw.EstimateTokens(nil); got != 0 {
		t.Errorf("EstimateTokens(nil) = %d, want 0", got)
	}
}

func TestEstimateTokensIncludesOverhead(t *testing.T) {
	cw := NewContextWindow(wordTokenizer{})
	messages := []chatModels.ChatMessage{msg("one two"), msg("three")}

	// 2 + 1 word tokens plus per-message overhead
	want := 3 + 2*messageOverheadTokens
	if got := cw.EstimateTokens(messages); got != want {
		t.Errorf("EstimateTokens = %d, want %d", got, want)
	}
}

func TestTrimToFitReturnsUnchangedWhenFitting(t *testing.T) {
	cw := NewContextWindow(wordTokenizer{})
	messages := []chatModels.ChatMessage{msg("a"), msg("b")}

	kept, trimmed := cw.TrimToFit(messages, 1000)
	if trimmed != 0 {
		t.Errorf("trimmed = %d, want 0", trimmed)
	}
	if len(kept) != 2 {
		t.Errorf("kept %d messages, want 2", len(kept))
	}
}

func TestTrimToFitDropsOldestFirst(t *testing.T) {
	cw := NewContextWindow(wordTokenizer{})
	messages := []chatModels.ChatMessage{
		msg("oldest message content here"),
		msg("middle"),
		msg("newest"),
	}

	// Each of the short messages costs 1+4=5 tokens; budget for two.
	kept, trimmed := cw.TrimToFit(messages, 10)
	if trimmed != 1 {
		t.Fatalf("trimmed = %d, want 1", trimmed)
	}
	if kept[0].Content != "middle" || kept[1].Content != "newest" {
		t.Errorf("kept = %+v, want middle+newest in chronological order", kept)
	}
	if got := cw.EstimateTokens(kept); got > 10 {
		t.Errorf("EstimateTokens(kept) = %d, exceeds budget 10", got)
	}
}

func TestTrimToFitKeepsContiguousNewestSuffix(t *testing.T) {
	cw := NewContextWindow(wordTokenizer{})
	messages := []chatModels.ChatMessage{
		msg("tiny"),
		msg("a very long middle message with many many words inside it"),
		msg("newest"),
	}

	// The long middle message does not fit, so the tiny oldest message
	// must not be kept either: recency monotonicity.
	kept, trimmed := cw.TrimToFit(messages, 8)
	if trimmed != 2 {
		t.Fatalf("trimmed = %d, want 2", trimmed)
	}
	if len(kept) != 1 || kept[0].Content != "newest" {
		t.Errorf("kept = %+v, want only the newest message", kept)
	}
}

func TestTrimToFitAlwaysKeepsNewestMessage(t *testing.T) {
	cw := NewContextWindow(wordTokenizer{})
	messages := []chatModels.ChatMessage{
		msg("old"),
		msg("this newest message alone blows the whole budget completely"),
	}

	kept, trimmed := cw.TrimToFit(messages, 3)
	if len(kept) != 1 || trimmed != 1 {
		t.Fatalf("kept=%d trimmed=%d, want 1/1", len(kept), trimmed)
	}
	if kept[0].Content != messages[1].Content {
		t.Errorf("kept message is not the newest")
	}
}
