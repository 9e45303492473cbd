package flowctx

import (
	"context"
	"testing"
)

func TestFlowValuesAreIsolated(t *testing.T) {
	base := context.Background()

	a := WithConversation(base, "conv-a")
	b := WithConversation(base, "conv-b")

	if got := ConversationID(a); got != "conv-a" {
		t.Errorf("ConversationID(a) = %q, want %q", got, "conv-a")
	}
	if got := ConversationID(b); got != "conv-b" {
		t.Errorf("ConversationID(b) = %q, want %q", got, "conv-b")
	}
	if got := ConversationID(base); got != "" {
		t.Errorf("ConversationID(base) = %q, want empty", got)
	}
}

func TestConfirmationIndependentOfConversation(t *testing.T) {
	ctx := WithConversation(context.Background(), "conv-1")
	ctx = WithConfirmation(ctx, "confirm-1")

	if got := ConversationID(ctx); got != "conv-1" {
		t.Errorf("ConversationID = %q, want conv-1", got)
	}
	if got := ConfirmationID(ctx); got != "confirm-1" {
		t.Errorf("ConfirmationID = %q, want confirm-1", got)
	}
}
