package chat

import (
	chatModels "valet/internal/domain/models/chat"
	chatSvc "valet/internal/domain/services/chat"
)

// messageOverheadTokens is the fixed per-message framing cost: models charge
// extra tokens for role markers around each message.
const messageOverheadTokens = 4

// ContextWindow bounds the message history sent to the model to a token
// budget, preferring recency over completeness: dropped context is always
// the oldest, never a message in the middle.
type ContextWindow struct {
	tokenizer chatSvc.Tokenizer
}

// NewContextWindow creates a context window manager over the tokenizer.
func NewContextWindow(tokenizer chatSvc.Tokenizer) *ContextWindow {
	return &ContextWindow{tokenizer: tokenizer}
}

// EstimateTokens sums per-message token counts plus the fixed per-message
// overhead. Returns 0 for an empty history.
func (cw *ContextWindow) EstimateTokens(messages []chatModels.ChatMessage) int {
	total := 0
	for i := range messages {
		total += cw.messageTokens(&messages[i])
	}
	return total
}

// TrimToFit trims the history to the token budget. When the full history
// already fits it is returned unchanged with trimmedCount 0. Otherwise the
// newest messages are kept greedily, scanning backward from the most recent,
// and the count of dropped oldest messages is reported. The newest message
// is always kept, even when it alone exceeds the budget. The result is in
// original chronological order.
func (cw *ContextWindow) TrimToFit(messages []chatModels.ChatMessage, maxTokens int) ([]chatModels.ChatMessage, int) {
	if len(messages) == 0 {
		return messages, 0
	}

	if cw.EstimateTokens(messages) <= maxTokens {
		return messages, 0
	}

	keepFrom := len(messages) - 1
	total := cw.messageTokens(&messages[keepFrom])

	for i := len(messages) - 2; i >= 0; i-- {
		cost := cw.messageTokens(&messages[i])
		if total+cost > maxTokens {
			break
		}
		total += cost
		keepFrom = i
	}

	return messages[keepFrom:], keepFrom
}

func (cw *ContextWindow) messageTokens(message *chatModels.ChatMessage) int {
	return cw.tokenizer.CountTokens(message.Content) + messageOverheadTokens
}
