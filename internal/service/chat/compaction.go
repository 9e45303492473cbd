package chat

import (
	"context"
)

// CompactConversation folds the conversation's currently-uncompressed tail
// into the stored summary. Single-flight per conversation: while one
// compaction is in flight, a second call for the same conversation returns
// false immediately without contacting the summarizer. All failures are
// reported as false, never as errors.
func (o *Orchestrator) CompactConversation(ctx context.Context, conversationID string) bool {
	o.compactingMu.Lock()
	if _, inFlight := o.compacting[conversationID]; inFlight {
		o.compactingMu.Unlock()
		return false
	}
	o.compacting[conversationID] = struct{}{}
	o.compactingMu.Unlock()

	defer func() {
		o.compactingMu.Lock()
		delete(o.compacting, conversationID)
		o.compactingMu.Unlock()
	}()

	o.events.CompactionStarted(conversationID)

	conversation, err := o.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		o.logger.Warn("compaction failed", "conversation_id", conversationID, "error", err)
		o.events.CompactionFailed(conversationID, err)
		return false
	}

	// Only the tail past the existing compression mark is summarized;
	// already-compressed history stays folded into the previous summary.
	messages, err := o.timeline.ListLiveMessagesSince(ctx, conversationID, conversation.CompressedAt)
	if err != nil {
		o.logger.Warn("compaction failed", "conversation_id", conversationID, "error", err)
		o.events.CompactionFailed(conversationID, err)
		return false
	}
	if len(messages) == 0 {
		o.logger.Debug("nothing to compact", "conversation_id", conversationID)
		o.events.CompactionCompleted(conversationID)
		return true
	}

	previous := ""
	if conversation.CompressedContext != nil {
		previous = *conversation.CompressedContext
	}

	summary, err := o.summarizer.Summarize(ctx, previous, messages)
	if err != nil {
		o.logger.Warn("summarization failed", "conversation_id", conversationID, "error", err)
		o.events.CompactionFailed(conversationID, err)
		return false
	}

	compressedAt := messages[len(messages)-1].CreatedAt
	if err := o.conversations.UpdateCompression(ctx, conversationID, summary, compressedAt); err != nil {
		o.logger.Warn("compaction persist failed", "conversation_id", conversationID, "error", err)
		o.events.CompactionFailed(conversationID, err)
		return false
	}

	o.logger.Info("conversation compacted",
		"conversation_id", conversationID,
		"messages", len(messages),
	)
	o.events.CompactionCompleted(conversationID)
	return true
}
